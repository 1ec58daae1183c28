// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigil-dev/quill/internal/metrics"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// Alert describes a fatal failure that needs an operator.
type Alert struct {
	Code    quillerr.Code
	RunID   string
	Stage   types.Stage
	Message string
	At      time.Time
}

// Alerter receives system failures.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter logs alerts at error level and counts them.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a Alert) {
	metrics.AlertsTotal.WithLabelValues(string(a.Code)).Inc()
	slog.Error("system failure alert",
		"code", a.Code,
		"run_id", a.RunID,
		"stage", a.Stage,
		"message", a.Message,
	)
}
