// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package pipeline runs the four stages of a research brief in order,
// recovering failed stages and synthesizing the collected results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/quill/internal/metrics"
	"github.com/sigil-dev/quill/internal/recovery"
	"github.com/sigil-dev/quill/internal/stage"
	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/internal/synthesis"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

const (
	defaultStageTimeout     = 2 * time.Minute
	defaultMaxStageAttempts = 3
)

// Hooks observe a run. They are called from the goroutine executing it.
type Hooks struct {
	OnTransition  func(runID string, from, to types.RunState)
	OnStageResult func(runID string, result types.StageResult)
}

// Config holds the dependencies of an Orchestrator.
type Config struct {
	Stages      *stage.Set
	Recovery    *recovery.Manager
	Synthesizer *synthesis.Synthesizer
	// Validate normalizes run input. A validation error rejects the run.
	Validate func(input map[string]any) (map[string]any, error)
	// Candidates lists the providers a stage calls, for recovery.
	Candidates func(types.Stage) []string
	// Runs persists every transition when set.
	Runs store.RunStore
	// Cache stores successful stage output when set.
	Cache *store.StaleLookup

	StageTimeout     time.Duration
	MaxStageAttempts int
	Hooks            *Hooks
}

// Orchestrator owns the lifecycle of pipeline runs. Runs execute
// independently; canceling one never affects another.
type Orchestrator struct {
	stages      *stage.Set
	recovery    *recovery.Manager
	synth       *synthesis.Synthesizer
	validate    func(map[string]any) (map[string]any, error)
	candidates  func(types.Stage) []string
	runStore    store.RunStore
	cache       *store.StaleLookup
	stageTO     time.Duration
	maxAttempts int
	hooks       *Hooks

	mu      sync.RWMutex
	runs    map[string]*run
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
	nowFunc func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Stages == nil {
		return nil, quillerr.New(quillerr.CodeSystemConfigFailure, "pipeline: stages are required")
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewManager(recovery.Options{Fallbacks: cfg.Stages, Defaults: cfg.Stages})
	}
	if cfg.Synthesizer == nil {
		cfg.Synthesizer = synthesis.New(nil, synthesis.DefaultOptions())
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	if cfg.MaxStageAttempts <= 0 {
		cfg.MaxStageAttempts = defaultMaxStageAttempts
	}
	if cfg.Candidates == nil {
		cfg.Candidates = func(types.Stage) []string { return nil }
	}

	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		stages:      cfg.Stages,
		recovery:    cfg.Recovery,
		synth:       cfg.Synthesizer,
		validate:    cfg.Validate,
		candidates:  cfg.Candidates,
		runStore:    cfg.Runs,
		cache:       cfg.Cache,
		stageTO:     cfg.StageTimeout,
		maxAttempts: cfg.MaxStageAttempts,
		hooks:       cfg.Hooks,
		runs:        make(map[string]*run),
		baseCtx:     base,
		stop:        stop,
		nowFunc:     time.Now,
	}, nil
}

// SetNowFunc overrides the clock (for testing).
func (o *Orchestrator) SetNowFunc(fn func() time.Time) { o.nowFunc = fn }

// RunPipeline executes a run to completion. The returned Status is set
// whenever the run was created, also when it failed.
func (o *Orchestrator) RunPipeline(ctx context.Context, requestID string, input map[string]any) (*Status, error) {
	r, runCtx, err := o.newRun(ctx, ctx, requestID, input)
	if err != nil {
		return nil, err
	}
	defer r.cancel()

	runErr := o.execute(runCtx, r)
	return r.status(), runErr
}

// Start launches a run in the background and returns its id. The run
// outlives ctx; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context, requestID string, input map[string]any) (string, error) {
	r, runCtx, err := o.newRun(ctx, o.baseCtx, requestID, input)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer r.cancel()
		_ = o.execute(runCtx, r)
	}()
	return r.id, nil
}

// Wait blocks until the run finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*Status, error) {
	o.mu.RLock()
	r, ok := o.runs[runID]
	o.mu.RUnlock()
	if !ok {
		return o.GetStatus(ctx, runID)
	}
	select {
	case <-r.done:
		return r.status(), nil
	case <-ctx.Done():
		return r.status(), ctx.Err()
	}
}

// GetStatus returns the current state of a run, reading the run store for
// runs no longer held in memory.
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (*Status, error) {
	o.mu.RLock()
	r, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		return r.status(), nil
	}

	if o.runStore != nil {
		rec, err := o.runStore.GetRun(ctx, runID)
		if err == nil {
			return statusFromRecord(rec), nil
		}
		if !quillerr.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, runNotFound(runID)
}

// Cancel stops one in-flight run. The run ends in the failed state.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.RLock()
	r, ok := o.runs[runID]
	o.mu.RUnlock()
	if !ok {
		if _, err := o.GetStatus(ctx, runID); err != nil {
			return err
		}
		return quillerr.New(quillerr.CodePipelineTransitionInvalid,
			"run "+runID+" already finished", quillerr.FieldRunID(runID))
	}

	select {
	case <-r.done:
		return quillerr.New(quillerr.CodePipelineTransitionInvalid,
			"run "+runID+" already finished", quillerr.FieldRunID(runID))
	default:
	}
	slog.Info("canceling run", "run_id", runID)
	r.cancel()
	return nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]Summary, error) {
	byID := make(map[string]Summary)
	if o.runStore != nil {
		recs, err := o.runStore.ListRuns(ctx, store.ListOpts{Limit: limit})
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			byID[rec.ID] = statusFromRecord(rec).summary()
		}
	}

	o.mu.RLock()
	for id, r := range o.runs {
		byID[id] = r.status().summary()
	}
	o.mu.RUnlock()

	out := make([]Summary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Shutdown cancels every background run and waits for them to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newRun validates input and registers a run whose context derives from
// parent. The run is cancelable as soon as it is visible to other callers.
func (o *Orchestrator) newRun(ctx, parent context.Context, requestID string, input map[string]any) (*run, context.Context, error) {
	if o.validate != nil {
		normalized, err := o.validate(input)
		if err != nil {
			if !quillerr.IsInvalidInput(err) {
				err = quillerr.Wrap(err, quillerr.CodePipelineInputInvalid, "invalid run input")
			}
			return nil, nil, err
		}
		input = normalized
	}
	if input == nil {
		input = map[string]any{}
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(parent)
	now := o.nowFunc()
	r := &run{
		id:        uuid.NewString(),
		requestID: requestID,
		state:     types.RunStatePlanning,
		input:     input,
		createdAt: now,
		updatedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[r.id] = r
	o.mu.Unlock()

	o.persist(ctx, r)
	slog.Info("run created", "run_id", r.id, "request_id", requestID)
	return r, runCtx, nil
}

// persist writes the run to the store. Failures are logged; a run never
// fails because it could not be saved.
func (o *Orchestrator) persist(ctx context.Context, r *run) {
	if o.runStore == nil {
		return
	}
	if err := o.runStore.SaveRun(context.WithoutCancel(ctx), r.record()); err != nil {
		slog.Warn("persisting run", "run_id", r.id, "error", err)
	}
}

// transition moves r to state. Only a restart may move backwards.
func (o *Orchestrator) transition(ctx context.Context, r *run, to types.RunState, restart bool) error {
	r.mu.Lock()
	from := r.state
	if from.Terminal() || (!restart && to.Rank() < from.Rank()) {
		r.mu.Unlock()
		return quillerr.New(quillerr.CodePipelineTransitionInvalid,
			fmt.Sprintf("run %s cannot move from %s to %s", r.id, from, to), quillerr.FieldRunID(r.id))
	}
	r.state = to
	r.updatedAt = o.nowFunc()
	r.mu.Unlock()

	if from != to {
		slog.Debug("run transition", "run_id", r.id, "from", from, "to", to)
		if o.hooks != nil && o.hooks.OnTransition != nil {
			o.hooks.OnTransition(r.id, from, to)
		}
	}
	o.persist(ctx, r)
	return nil
}

// execute drives r through the stages and finishes it.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	defer close(r.done)

	stages := types.Stages()
	input := r.input
	attempt := 1

	for i := 0; i < len(stages); {
		st := stages[i]
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, r, canceled(r.id, st, err))
		}
		if err := o.transition(ctx, r, types.StateFor(st), false); err != nil {
			return o.fail(ctx, r, err)
		}

		res, next, err := o.runStage(ctx, r, st, input, attempt)
		switch next {
		case recovery.NextContinue:
			o.record(ctx, r, res)
			if !res.Degraded || len(res.Data) > 0 {
				input = res.Data
			}
			i++
			attempt = 1
		case recovery.NextRetry:
			attempt++
		case recovery.NextRestart:
			slog.Warn("restarting run", "run_id", r.id, "failed_stage", st)
			r.mu.Lock()
			r.restarts++
			r.results = nil
			r.mu.Unlock()
			if err := o.transition(ctx, r, types.RunStatePlanning, true); err != nil {
				return o.fail(ctx, r, err)
			}
			input = r.input
			i = 0
			attempt = 1
		default:
			return o.fail(ctx, r, err)
		}
	}

	return o.complete(ctx, r)
}

// runStage executes one stage and, when it fails, its recovery. The
// returned result is meaningful only for NextContinue.
func (o *Orchestrator) runStage(ctx context.Context, r *run, st types.Stage, input map[string]any, attempt int) (types.StageResult, recovery.NextAction, error) {
	log := slog.With("run_id", r.id, "stage", st, "attempt", attempt)
	exec, err := o.stages.Executor(st)
	if err != nil {
		return types.StageResult{}, recovery.NextFail, err
	}

	start := o.nowFunc()
	sctx, cancel := context.WithTimeout(ctx, o.stageTO)
	out, err := exec.Execute(sctx, input)
	timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := o.nowFunc().Sub(start)

	if err == nil {
		metrics.StageDuration.WithLabelValues(string(st), "success").Observe(elapsed.Seconds())
		log.Info("stage completed", "confidence", out.Confidence, "duration", elapsed)
		o.remember(ctx, st, input, out)
		return types.StageResult{
			Stage:      st,
			Success:    true,
			Confidence: out.Confidence,
			Data:       out.Data,
			Errors:     out.Errors,
			Warnings:   out.Warnings,
			Sources:    out.Sources,
			Duration:   elapsed,
			Attempts:   attempt,
		}, recovery.NextContinue, nil
	}

	switch {
	case ctx.Err() != nil:
		return types.StageResult{}, recovery.NextFail, canceled(r.id, st, ctx.Err())
	case timedOut:
		err = quillerr.New(quillerr.CodeStageExecuteTimeout,
			fmt.Sprintf("stage %s exceeded %s: %v", st, o.stageTO, err), quillerr.FieldStage(string(st)))
	case isInputError(err):
		metrics.StageDuration.WithLabelValues(string(st), "invalid").Observe(elapsed.Seconds())
		log.Warn("stage rejected its input", "error", err)
		return types.StageResult{}, recovery.NextFail, quillerr.With(err, quillerr.FieldRunID(r.id))
	}
	log.Warn("stage failed", "error", err, "duration", elapsed)

	r.mu.RLock()
	rc := &recovery.Context{
		RunID:           r.id,
		Stage:           st,
		Operation:       recovery.OpStage,
		Attempt:         attempt,
		MaxAttempts:     o.maxAttempts,
		Err:             err,
		Input:           input,
		Partial:         out.Data,
		PreviousResults: slices.Clone(r.results),
		Providers:       o.candidates(st),
		Restarts:        r.restarts,
		Elapsed:         o.nowFunc().Sub(r.createdAt),
	}
	r.mu.RUnlock()

	rec := o.recovery.Recover(ctx, rc)
	for _, next := range escalation(rec.Category) {
		if rec.Next != recovery.NextFail || rec.IsFatal() || ctx.Err() != nil {
			break
		}
		rc.Category = next
		rec = o.recovery.Recover(ctx, rc)
	}

	switch rec.Next {
	case recovery.NextContinue:
		metrics.StageDuration.WithLabelValues(string(st), "recovered").Observe(elapsed.Seconds())
		return types.StageResult{
			Stage:      st,
			Success:    !rec.Skipped,
			Degraded:   rec.Degraded,
			Confidence: rec.Confidence,
			Data:       rec.Data,
			Errors:     append(slices.Clone(out.Errors), err.Error()),
			Warnings:   append(slices.Clone(out.Warnings), rec.Warnings...),
			Sources:    out.Sources,
			Duration:   elapsed,
			Attempts:   attempt,
			Recovery:   string(rec.Action),
		}, recovery.NextContinue, nil
	case recovery.NextRetry, recovery.NextRestart:
		return types.StageResult{}, rec.Next, nil
	default:
		metrics.StageDuration.WithLabelValues(string(st), "failure").Observe(elapsed.Seconds())
		if ctx.Err() != nil {
			return types.StageResult{}, recovery.NextFail, canceled(r.id, st, ctx.Err())
		}
		return types.StageResult{}, recovery.NextFail, rec.Err
	}
}

func (o *Orchestrator) remember(ctx context.Context, st types.Stage, input map[string]any, out stage.Output) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Remember(context.WithoutCancel(ctx), st, input, out.Data, out.Confidence); err != nil {
		slog.Warn("caching stage output", "stage", st, "error", err)
	}
}

// record appends the stage's single result.
func (o *Orchestrator) record(ctx context.Context, r *run, res types.StageResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.updatedAt = o.nowFunc()
	r.mu.Unlock()

	if o.hooks != nil && o.hooks.OnStageResult != nil {
		o.hooks.OnStageResult(r.id, res)
	}
	o.persist(ctx, r)
}

func (o *Orchestrator) complete(ctx context.Context, r *run) error {
	r.mu.RLock()
	results := slices.Clone(r.results)
	r.mu.RUnlock()

	res, err := o.synth.Synthesize(results)
	if err != nil {
		return o.fail(ctx, r, err)
	}
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	if err := o.transition(ctx, r, types.RunStateCompleted, false); err != nil {
		return o.fail(ctx, r, err)
	}

	o.finish(ctx, r)
	slog.Info("run completed", "run_id", r.id, "confidence", res.Confidence, "valid", res.Validation.IsValid)
	return nil
}

// fail ends r. Stages that completed are still synthesized, and that
// result is marked degraded.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) error {
	r.mu.Lock()
	from := r.state
	results := slices.Clone(r.results)
	r.state = types.RunStateFailed
	r.failure = quillerr.Describe(cause)
	r.updatedAt = o.nowFunc()
	r.mu.Unlock()

	if o.hooks != nil && o.hooks.OnTransition != nil && from != types.RunStateFailed {
		o.hooks.OnTransition(r.id, from, types.RunStateFailed)
	}

	if len(results) > 0 {
		res, err := o.synth.SynthesizePartial(results)
		if err != nil {
			slog.Warn("partial synthesis failed", "run_id", r.id, "error", err)
		} else {
			res.Degraded = true
			r.mu.Lock()
			r.result = res
			r.mu.Unlock()
		}
	}

	o.finish(ctx, r)
	slog.Warn("run failed", "run_id", r.id, "state", from, "error", cause)
	return cause
}

// finish persists the terminal state and releases the in-memory copy once
// the store holds it.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	metrics.RunsTotal.WithLabelValues(string(state)).Inc()

	o.persist(ctx, r)
	if o.runStore != nil {
		o.mu.Lock()
		delete(o.runs, r.id)
		o.mu.Unlock()
	}
}

func canceled(runID string, st types.Stage, err error) error {
	return quillerr.Wrap(err, quillerr.CodePipelineRunCanceled, "run canceled",
		quillerr.FieldRunID(runID), quillerr.FieldStage(string(st)))
}

func runNotFound(runID string) error {
	return quillerr.New(quillerr.CodePipelineRunNotFound, "run "+runID+" not found", quillerr.FieldRunID(runID))
}

// escalation lists the categories tried, in order, when recovery in c
// cannot save the stage. A provider failure the coordinator could not
// absorb falls back to the stage's own remedies before the pipeline's.
func escalation(c recovery.Category) []recovery.Category {
	switch c {
	case recovery.CategoryProvider:
		return []recovery.Category{recovery.CategoryStage, recovery.CategoryPipeline}
	case recovery.CategoryStage:
		return []recovery.Category{recovery.CategoryPipeline}
	default:
		return nil
	}
}

// isInputError reports whether a stage failed on the run's own input.
// Provider and stage failures go through recovery instead.
func isInputError(err error) bool {
	switch quillerr.CodeOf(err) {
	case quillerr.CodeStageInputInvalid, quillerr.CodePipelineInputInvalid, quillerr.CodeScanInputBlocked:
		return true
	default:
		return false
	}
}
