// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/quill/internal/pipeline"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

const defaultRenderWidth = 100

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once in this process",
		Long: "Run all four stages for one research brief without a server and print the result.\n" +
			"Input comes from flags or from a JSON file (--input, '-' for stdin).",
		Example: `  quill run --topic "grid storage" --audience "policy staff" --window-start 2025-01-01
  quill run --input brief.json --render`,
		RunE: runRun,
	}

	cmd.Flags().String("topic", "", "subject of the brief")
	cmd.Flags().String("audience", "", "intended readers")
	cmd.Flags().String("window-start", "", "start of the covered period (date or RFC 3339)")
	cmd.Flags().String("window-end", "", "end of the covered period (date or RFC 3339)")
	cmd.Flags().String("input", "", "JSON file holding the run input, '-' for stdin")
	cmd.Flags().String("request-id", "", "caller-supplied request id")
	cmd.Flags().Bool("render", false, "render the compiled document as markdown instead of printing JSON")
	cmd.Flags().Int("width", defaultRenderWidth, "word wrap width for --render")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	input, err := runInput(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	progress := cmd.ErrOrStderr()
	app, err := WireApp(cfg, &pipeline.Hooks{
		OnTransition: func(_ string, from, to types.RunState) {
			_, _ = fmt.Fprintf(progress, "%s -> %s\n", from, to)
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	requestID, _ := cmd.Flags().GetString("request-id")
	status, runErr := app.Orchestrator.RunPipeline(cmd.Context(), requestID, input)
	if status == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if render, _ := cmd.Flags().GetBool("render"); render {
		width, _ := cmd.Flags().GetInt("width")
		text, err := renderDocument(status, width)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, text); err != nil {
			return err
		}
	} else if err := writeJSON(out, status); err != nil {
		return err
	}
	return runErr
}

// runInput builds the run input from --input or the individual flags.
// The flags override fields of the file.
func runInput(cmd *cobra.Command) (map[string]any, error) {
	input := map[string]any{}

	if path, _ := cmd.Flags().GetString("input"); path != "" {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, quillerr.Errorf(quillerr.CodeCLIInputInvalid, "reading input: %w", err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, quillerr.Errorf(quillerr.CodeCLIInputInvalid, "input is not a JSON object: %w", err)
		}
	}

	for flag, key := range map[string]string{
		"topic":        "topic",
		"audience":     "audience",
		"window-start": "window_start",
		"window-end":   "window_end",
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			input[key] = v
		}
	}

	if topic, _ := input["topic"].(string); strings.TrimSpace(topic) == "" {
		return nil, quillerr.New(quillerr.CodeCLIInputInvalid, "a topic is required (--topic or \"topic\" in --input)")
	}
	return input, nil
}

// renderDocument renders the compiled markdown document of a run for the
// terminal, followed by its confidence and any warnings.
func renderDocument(status *pipeline.Status, width int) (string, error) {
	var md strings.Builder
	if status.Result != nil {
		if doc, _ := status.Result.Data["document"].(string); doc != "" {
			md.WriteString(doc)
		} else if summary, _ := status.Result.Data["summary"].(string); summary != "" {
			md.WriteString(summary)
		}
	}
	if md.Len() == 0 {
		md.WriteString("_No document was produced._")
	}
	md.WriteString("\n\n---\n\n")
	fmt.Fprintf(&md, "**Run** `%s` finished **%s**", status.RunID, status.State)
	if status.Result != nil {
		fmt.Fprintf(&md, " with confidence %.2f", status.Result.Confidence)
		if status.Result.Degraded {
			md.WriteString(" (degraded)")
		}
		md.WriteString("\n")
		for _, w := range status.Result.Warnings {
			fmt.Fprintf(&md, "\n- %s", w)
		}
	}
	if status.Failure != nil {
		fmt.Fprintf(&md, "\n\n> %s: %s", status.Failure.Code, status.Failure.Message)
	}
	md.WriteString("\n")

	if width <= 0 {
		width = defaultRenderWidth
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return "", quillerr.Errorf(quillerr.CodeCLISetupFailure, "creating markdown renderer: %w", err)
	}
	out, err := r.Render(md.String())
	if err != nil {
		return "", quillerr.Errorf(quillerr.CodeCLISetupFailure, "rendering document: %w", err)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
