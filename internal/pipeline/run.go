// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package pipeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/internal/synthesis"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// Status is the observable state of one run.
type Status struct {
	RunID        string              `json:"run_id"`
	RequestID    string              `json:"request_id"`
	State        types.RunState      `json:"state"`
	Progress     float64             `json:"progress"`
	Restarts     int                 `json:"restarts"`
	StageResults []types.StageResult `json:"stage_results"`
	Result       *synthesis.Result   `json:"result,omitempty"`
	Failure      *quillerr.Failure   `json:"failure,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Done reports whether the run reached a terminal state.
func (s *Status) Done() bool { return s.State.Terminal() }

// Summary is the list view of a run.
type Summary struct {
	RunID     string         `json:"run_id"`
	RequestID string         `json:"request_id"`
	State     types.RunState `json:"state"`
	Progress  float64        `json:"progress"`
	Degraded  bool           `json:"degraded"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// run is the in-memory state of one run. Only the goroutine executing the
// run writes to it.
type run struct {
	mu        sync.RWMutex
	id        string
	requestID string
	state     types.RunState
	restarts  int
	input     map[string]any
	results   []types.StageResult
	result    *synthesis.Result
	failure   *quillerr.Failure
	createdAt time.Time
	updatedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func progress(results []types.StageResult) float64 {
	return float64(len(results)) / float64(len(types.Stages()))
}

func (r *run) status() *Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Status{
		RunID:        r.id,
		RequestID:    r.requestID,
		State:        r.state,
		Progress:     progress(r.results),
		Restarts:     r.restarts,
		StageResults: slices.Clone(r.results),
		Result:       r.result,
		Failure:      r.failure,
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
	}
}

func (r *run) record() *store.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &store.RunRecord{
		ID:        r.id,
		RequestID: r.requestID,
		State:     r.state,
		Restarts:  r.restarts,
		Input:     r.input,
		Results:   slices.Clone(r.results),
		Synthesis: r.result,
		Failure:   r.failure,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

func statusFromRecord(rec *store.RunRecord) *Status {
	return &Status{
		RunID:        rec.ID,
		RequestID:    rec.RequestID,
		State:        rec.State,
		Progress:     progress(rec.Results),
		Restarts:     rec.Restarts,
		StageResults: rec.Results,
		Result:       rec.Synthesis,
		Failure:      rec.Failure,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (s *Status) summary() Summary {
	return Summary{
		RunID:     s.RunID,
		RequestID: s.RequestID,
		State:     s.State,
		Progress:  s.Progress,
		Degraded:  s.Result != nil && s.Result.Degraded,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
