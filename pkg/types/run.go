// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package types

// RunState is the orchestrator state of one pipeline run. The four stage
// states share their names with the Stage roles.
type RunState string

const (
	RunStatePlanning     RunState = RunState(StagePlanning)
	RunStateGathering    RunState = RunState(StageGathering)
	RunStateSpecializing RunState = RunState(StageSpecializing)
	RunStateCompiling    RunState = RunState(StageCompiling)
	RunStateCompleted    RunState = "completed"
	RunStateFailed       RunState = "failed"
)

// StateFor returns the run state that executes stage s.
func StateFor(s Stage) RunState {
	return RunState(s)
}

// Stage returns the stage executed in this state. ok is false for terminal states.
func (r RunState) Stage() (Stage, bool) {
	s := Stage(r)
	return s, s.Valid()
}

// Terminal reports whether no further transitions are possible.
func (r RunState) Terminal() bool {
	return r == RunStateCompleted || r == RunStateFailed
}

// Valid reports whether r is a known run state.
func (r RunState) Valid() bool {
	if r.Terminal() {
		return true
	}
	_, ok := r.Stage()
	return ok
}

// Rank orders states for forward-only transition checks. Terminal states
// rank after every stage.
func (r RunState) Rank() int {
	if s, ok := r.Stage(); ok {
		return s.Index()
	}
	if r.Terminal() {
		return len(Stages())
	}
	return -1
}
