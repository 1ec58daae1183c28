// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/quill/internal/pipeline"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show server status, recent runs, or one run",
		Long: "Without arguments, check the running server and list its most recent runs.\n" +
			"With a run id, show the state of that run.",
		Args: cobra.MaximumNArgs(1),
		RunE: runStatus,
	}

	cmd.Flags().String("address", "", "server address (defaults to server.listen)")
	cmd.Flags().Int("limit", 20, "number of runs to list")
	cmd.Flags().Bool("json", false, "print the raw JSON response")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := serverAddress(cmd)
	out := cmd.OutOrStdout()
	api := newAPIClient(addr)
	asJSON, _ := cmd.Flags().GetBool("json")

	if len(args) == 1 {
		var st pipeline.Status
		if err := api.getJSON("/api/v1/runs/"+url.PathEscape(args[0]), &st); err != nil {
			return err
		}
		if asJSON {
			return writeJSON(out, &st)
		}
		return printRun(cmd, &st)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := api.getJSON("/health", &health); err != nil {
		if quillerr.HasCode(err, quillerr.CodeCLIServerNotRunning) {
			_, _ = fmt.Fprintf(out, "Server at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	var body struct {
		Runs []pipeline.Summary `json:"runs"`
	}
	if err := api.getJSON("/api/v1/runs?limit="+strconv.Itoa(limit), &body); err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, body)
	}

	_, _ = fmt.Fprintf(out, "Server at %s: %s\n", addr, health.Status)
	if len(body.Runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs.")
		return nil
	}

	_, _ = fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTATE\tPROGRESS\tDEGRADED\tUPDATED")
	for _, r := range body.Runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%t\t%s\n",
			r.RunID, r.State, r.Progress*100, r.Degraded, r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printRun(cmd *cobra.Command, st *pipeline.Status) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Run:\t%s\n", st.RunID)
	_, _ = fmt.Fprintf(tw, "Request:\t%s\n", st.RequestID)
	_, _ = fmt.Fprintf(tw, "State:\t%s\n", st.State)
	_, _ = fmt.Fprintf(tw, "Progress:\t%.0f%%\n", st.Progress*100)
	if st.Restarts > 0 {
		_, _ = fmt.Fprintf(tw, "Restarts:\t%d\n", st.Restarts)
	}
	for _, r := range st.StageResults {
		mark := "ok"
		switch {
		case !r.Success:
			mark = "failed"
		case r.Degraded:
			mark = "degraded"
		}
		if r.Recovery != "" {
			mark += ", recovered by " + r.Recovery
		}
		_, _ = fmt.Fprintf(tw, "  %s:\t%s (confidence %.2f)\n", r.Stage, mark, r.Confidence)
	}
	if st.Result != nil {
		_, _ = fmt.Fprintf(tw, "Confidence:\t%.2f\n", st.Result.Confidence)
		_, _ = fmt.Fprintf(tw, "Degraded:\t%t\n", st.Result.Degraded)
	}
	if st.Failure != nil {
		_, _ = fmt.Fprintf(tw, "Failure:\t%s (%s)\n", st.Failure.Message, st.Failure.Code)
	}
	return tw.Flush()
}
