// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package recovery

import (
	"context"
	"maps"
	"slices"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// ActionKind names a recovery action.
type ActionKind string

const (
	ActionRetry             ActionKind = "retry"
	ActionFallback          ActionKind = "fallback"
	ActionDegrade           ActionKind = "degrade"
	ActionAlternateProvider ActionKind = "alternate_provider"
	ActionCachedData        ActionKind = "cached_data"
	ActionRestart           ActionKind = "restart"
	ActionSkip              ActionKind = "skip"
	ActionDefaults          ActionKind = "defaults"
	ActionFail              ActionKind = "fail"
)

// NextAction tells the orchestrator how to proceed after recovery.
type NextAction string

const (
	NextContinue NextAction = "continue"
	NextRetry    NextAction = "retry"
	NextFail     NextAction = "fail"
	NextRestart  NextAction = "restart"
)

// Confidence assigned to data produced by each degraded path.
const (
	fallbackConfidence = 0.6
	degradeConfidence  = 0.4
	cachedConfidence   = 0.5
	defaultsConfidence = 0.3
)

// Action is one step of a category's strategy.
type Action struct {
	Kind       ActionKind
	CanExecute func(rc *Context) bool
	Execute    func(ctx context.Context, rc *Context) (Outcome, error)
}

// strategy returns the ordered actions for a category.
func (m *Manager) strategy(c Category) []Action {
	switch c {
	case CategoryStage:
		return []Action{m.retryAction(), m.fallbackAction(), m.degradeAction()}
	case CategoryProvider:
		return []Action{m.alternateProviderAction(), m.cachedDataAction()}
	case CategoryPipeline:
		return []Action{m.restartAction(), m.skipAction(), m.defaultsAction()}
	default:
		return nil
	}
}

func (m *Manager) retryAction() Action {
	return Action{
		Kind: ActionRetry,
		CanExecute: func(rc *Context) bool {
			return rc.Attempt <= m.opts.StageMaxRetries && rc.attemptsLeft()
		},
		Execute: func(context.Context, *Context) (Outcome, error) {
			return Outcome{Next: NextRetry}, nil
		},
	}
}

func (m *Manager) fallbackAction() Action {
	return Action{
		Kind:       ActionFallback,
		CanExecute: func(*Context) bool { return m.opts.Fallbacks != nil },
		Execute: func(ctx context.Context, rc *Context) (Outcome, error) {
			data, err := m.opts.Fallbacks.Fallback(ctx, rc.Stage, rc.Input)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{
				Next:       NextContinue,
				Degraded:   true,
				Data:       data,
				Confidence: fallbackConfidence,
				Warnings:   []string{"stage " + string(rc.Stage) + " produced by its fallback path"},
			}, nil
		},
	}
}

// degradeAction reuses what the run already has: the failed stage's
// partial output, or else the latest earlier stage's data.
func (m *Manager) degradeAction() Action {
	return Action{
		Kind:       ActionDegrade,
		CanExecute: func(rc *Context) bool { return len(rc.PreviousResults) > 0 },
		Execute: func(_ context.Context, rc *Context) (Outcome, error) {
			data := maps.Clone(rc.Partial)
			if len(data) == 0 {
				data = maps.Clone(rc.PreviousResults[len(rc.PreviousResults)-1].Data)
			}
			if data == nil {
				data = map[string]any{}
			}
			return Outcome{
				Next:       NextContinue,
				Degraded:   true,
				Data:       data,
				Confidence: degradeConfidence,
				Warnings:   []string{"stage " + string(rc.Stage) + " reuses partial results"},
			}, nil
		},
	}
}

func (m *Manager) alternateProviderAction() Action {
	return Action{
		Kind: ActionAlternateProvider,
		CanExecute: func(rc *Context) bool {
			return m.opts.Availability != nil && rc.attemptsLeft() && len(m.alternates(rc)) > 0
		},
		Execute: func(context.Context, *Context) (Outcome, error) {
			return Outcome{Next: NextRetry}, nil
		},
	}
}

// alternates lists available providers other than the one that failed.
func (m *Manager) alternates(rc *Context) []string {
	failed, _ := quillerr.FieldsOf(rc.Err)["provider"].(string)
	avail := m.opts.Availability.AvailableProviders(rc.Providers)
	return slices.DeleteFunc(avail, func(name string) bool { return name == failed })
}

func (m *Manager) cachedDataAction() Action {
	return Action{
		Kind:       ActionCachedData,
		CanExecute: func(*Context) bool { return m.opts.Cache != nil },
		Execute: func(ctx context.Context, rc *Context) (Outcome, error) {
			data, ok, err := m.opts.Cache.Stale(ctx, rc.Stage, rc.Input)
			if err != nil {
				return Outcome{}, err
			}
			if !ok {
				return Outcome{}, quillerr.New(quillerr.CodeStoreCacheGetMissing,
					"no cached data for stage "+string(rc.Stage), quillerr.FieldStage(string(rc.Stage)))
			}
			return Outcome{
				Next:       NextContinue,
				Degraded:   true,
				Data:       data,
				Confidence: cachedConfidence,
				Warnings:   []string{"stage " + string(rc.Stage) + " uses cached data"},
			}, nil
		},
	}
}

func (m *Manager) restartAction() Action {
	return Action{
		Kind:       ActionRestart,
		CanExecute: func(rc *Context) bool { return rc.Restarts == 0 },
		Execute: func(context.Context, *Context) (Outcome, error) {
			return Outcome{Next: NextRestart}, nil
		},
	}
}

func (m *Manager) skipAction() Action {
	return Action{
		Kind:       ActionSkip,
		CanExecute: func(rc *Context) bool { return !m.isCritical(rc.Stage) },
		Execute: func(_ context.Context, rc *Context) (Outcome, error) {
			return Outcome{
				Next:     NextContinue,
				Degraded: true,
				Skipped:  true,
				Data:     map[string]any{},
				Warnings: []string{"stage " + string(rc.Stage) + " skipped"},
			}, nil
		},
	}
}

func (m *Manager) defaultsAction() Action {
	return Action{
		Kind:       ActionDefaults,
		CanExecute: func(*Context) bool { return m.opts.Defaults != nil },
		Execute: func(_ context.Context, rc *Context) (Outcome, error) {
			data, ok := m.opts.Defaults.Defaults(rc.Stage, rc.Input)
			if !ok {
				return Outcome{}, quillerr.New(quillerr.CodeRecoveryActionFailure,
					"no defaults for stage "+string(rc.Stage), quillerr.FieldStage(string(rc.Stage)))
			}
			return Outcome{
				Next:       NextContinue,
				Degraded:   true,
				Data:       data,
				Confidence: defaultsConfidence,
				Warnings:   []string{"stage " + string(rc.Stage) + " uses default values"},
			}, nil
		},
	}
}
