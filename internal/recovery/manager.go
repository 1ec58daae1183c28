// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package recovery chooses and runs remediation for failed pipeline work.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sigil-dev/quill/internal/metrics"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// Fallbacks runs a stage's simplified execution path.
type Fallbacks interface {
	Fallback(ctx context.Context, stage types.Stage, input map[string]any) (map[string]any, error)
}

// Defaults supplies generic values for a stage.
type Defaults interface {
	Defaults(stage types.Stage, input map[string]any) (map[string]any, bool)
}

// StaleCache looks up earlier output of a stage for an equivalent input.
type StaleCache interface {
	Stale(ctx context.Context, stage types.Stage, input map[string]any) (map[string]any, bool, error)
}

// Availability reports which providers can currently take calls.
type Availability interface {
	AvailableProviders(candidates []string) []string
}

// Timeouts bound a single action per category. Zero disables the bound.
type Timeouts struct {
	Stage    time.Duration
	Provider time.Duration
	Pipeline time.Duration
	System   time.Duration
}

// DefaultTimeouts returns 30s, 45s, 60s and no system timeout.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Stage:    30 * time.Second,
		Provider: 45 * time.Second,
		Pipeline: 60 * time.Second,
	}
}

// For returns the bound for category c.
func (t Timeouts) For(c Category) time.Duration {
	switch c {
	case CategoryStage:
		return t.Stage
	case CategoryProvider:
		return t.Provider
	case CategoryPipeline:
		return t.Pipeline
	default:
		return t.System
	}
}

// Options configure a Manager. All collaborators are optional; an action
// whose collaborator is missing is never executed.
type Options struct {
	Timeouts        Timeouts
	StageMaxRetries int
	Fallbacks       Fallbacks
	Defaults        Defaults
	Cache           StaleCache
	Availability    Availability
	Alerter         Alerter
	CriticalStages  []types.Stage
}

// Context is the information about one failure. It lives for a single
// call to Recover.
type Context struct {
	RunID     string
	Stage     types.Stage
	Operation Operation
	// Category skips classification when set.
	Category Category
	// Attempt is the 1-based number of the execution that failed.
	Attempt     int
	MaxAttempts int
	Err         error
	Input       map[string]any
	Partial     map[string]any
	// PreviousResults holds the StageResults of earlier stages in this run.
	PreviousResults []types.StageResult
	// Providers are the candidates the failed stage may call.
	Providers []string
	Restarts  int
	Elapsed   time.Duration
}

func (rc *Context) attemptsLeft() bool {
	return rc.MaxAttempts <= 0 || rc.Attempt < rc.MaxAttempts
}

// Outcome is what recovery produced.
type Outcome struct {
	Recovered  bool
	Degraded   bool
	Skipped    bool
	Category   Category
	Action     ActionKind
	Next       NextAction
	Data       map[string]any
	Confidence float64
	Warnings   []string
	// Attempts counts the actions that were executed.
	Attempts int
	// Err is the failure when Next is NextFail.
	Err error
}

// Manager selects the recovery strategy for a failure and runs its actions
// in order until one succeeds.
type Manager struct {
	opts Options
}

// NewManager creates a Manager. A zero StageMaxRetries means 2 and a zero
// Timeouts means DefaultTimeouts.
func NewManager(opts Options) *Manager {
	if opts.StageMaxRetries <= 0 {
		opts.StageMaxRetries = 2
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.Alerter == nil {
		opts.Alerter = LogAlerter{}
	}
	return &Manager{opts: opts}
}

// IsCritical reports whether stage may not be skipped.
func (m *Manager) IsCritical(stage types.Stage) bool { return m.isCritical(stage) }

func (m *Manager) isCritical(stage types.Stage) bool {
	return slices.Contains(m.opts.CriticalStages, stage)
}

// Recover runs the strategy for rc's failure category. It always returns
// an Outcome; Next is NextFail when nothing worked.
func (m *Manager) Recover(ctx context.Context, rc *Context) Outcome {
	category := rc.Category
	if category == "" {
		category = Classify(rc.Err, rc.Operation)
	}

	log := slog.With("run_id", rc.RunID, "stage", rc.Stage, "category", category, "attempt", rc.Attempt)

	if category == CategorySystem {
		m.alert(ctx, rc)
		metrics.RecoveryActionsTotal.WithLabelValues(string(category), string(ActionFail), "fatal").Inc()
		return Outcome{
			Category: category,
			Action:   ActionFail,
			Next:     NextFail,
			Err:      quillerr.With(rc.Err, quillerr.FieldRunID(rc.RunID), quillerr.FieldStage(string(rc.Stage))),
		}
	}

	timeout := m.opts.Timeouts.For(category)
	var (
		attempts int
		lastErr  = rc.Err
	)

	for _, action := range m.strategy(category) {
		if !action.CanExecute(rc) {
			continue
		}
		attempts++

		out, err := runAction(ctx, action, rc, timeout)
		if err != nil {
			metrics.RecoveryActionsTotal.WithLabelValues(string(category), string(action.Kind), "failure").Inc()
			log.Warn("recovery action failed", "action", action.Kind, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		metrics.RecoveryActionsTotal.WithLabelValues(string(category), string(action.Kind), "success").Inc()
		log.Info("recovery action succeeded", "action", action.Kind, "next", out.Next, "degraded", out.Degraded)

		out.Recovered = true
		out.Category = category
		out.Action = action.Kind
		out.Attempts = attempts
		return out
	}

	metrics.RecoveryActionsTotal.WithLabelValues(string(category), string(ActionFail), "exhausted").Inc()
	log.Warn("recovery exhausted", "actions_tried", attempts)

	return Outcome{
		Category: category,
		Action:   ActionFail,
		Next:     NextFail,
		Attempts: attempts,
		Err:      exhausted(rc, category, lastErr),
	}
}

func exhausted(rc *Context, category Category, lastErr error) error {
	fields := []quillerr.Attr{
		quillerr.FieldRunID(rc.RunID),
		quillerr.FieldStage(string(rc.Stage)),
		quillerr.Field("category", string(category)),
	}
	if rc.Err == nil {
		msg := fmt.Sprintf("%s recovery exhausted", category)
		if lastErr != nil {
			msg += ": " + lastErr.Error()
		}
		return quillerr.New(quillerr.CodeRecoveryExhausted, msg, fields...)
	}
	// the original failure keeps its code
	msg := fmt.Sprintf("%s recovery exhausted", category)
	if lastErr != nil && lastErr != rc.Err {
		msg += fmt.Sprintf(" (last recovery error: %v)", lastErr)
	}
	return quillerr.Wrap(rc.Err, quillerr.CodeRecoveryExhausted, msg, fields...)
}

func (m *Manager) alert(ctx context.Context, rc *Context) {
	code := quillerr.CodeOf(rc.Err)
	if code == "" {
		code = quillerr.CodeSystemResourceFailure
	}
	msg := ""
	if rc.Err != nil {
		msg = rc.Err.Error()
	}
	m.opts.Alerter.Alert(ctx, Alert{
		Code:    code,
		RunID:   rc.RunID,
		Stage:   rc.Stage,
		Message: msg,
		At:      time.Now(),
	})
}

type actionResult struct {
	out Outcome
	err error
}

// runAction bounds one action by timeout. An action that overruns is
// abandoned and counts as failed.
func runAction(ctx context.Context, a Action, rc *Context, timeout time.Duration) (Outcome, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan actionResult, 1)
	go func() {
		out, err := a.Execute(actx, rc)
		done <- actionResult{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return Outcome{}, quillerr.Wrap(ctx.Err(), quillerr.CodePipelineRunCanceled, "recovery canceled")
		}
		return Outcome{}, quillerr.New(quillerr.CodeRecoveryActionTimeout,
			fmt.Sprintf("recovery action %s exceeded %s", a.Kind, timeout),
			quillerr.FieldStage(string(rc.Stage)))
	}
}

// IsFatal reports whether an Outcome ended the run because of a system failure.
func (o Outcome) IsFatal() bool {
	return o.Category == CategorySystem && o.Next == NextFail
}
