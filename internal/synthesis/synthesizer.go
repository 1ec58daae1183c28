// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package synthesis merges the stage results of a run into one scored,
// conflict-annotated result.
package synthesis

import (
	"fmt"
	"strings"
	"time"

	"github.com/sigil-dev/quill/internal/metrics"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// Weights of the overall confidence score.
type Weights struct {
	Consistency  float64
	Completeness float64
	Accuracy     float64
}

// Options tune scoring.
type Options struct {
	MinConfidence   float64
	Weights         Weights
	ErrorPenalty    float64
	DegradedPenalty float64
	// StageBudget is the duration a stage may take before timeliness drops.
	StageBudget time.Duration
	// LowCoverage is the coverage below which a recommendation is made.
	LowCoverage float64
}

// DefaultOptions returns the 0.4/0.3/0.3 weighting with a 0.6 minimum.
func DefaultOptions() Options {
	return Options{
		MinConfidence:   0.6,
		Weights:         Weights{Consistency: 0.4, Completeness: 0.3, Accuracy: 0.3},
		ErrorPenalty:    0.1,
		DegradedPenalty: 0.1,
		StageBudget:     2 * time.Minute,
		LowCoverage:     0.8,
	}
}

// Synthesizer is stateless apart from its registry and options and may be
// shared between runs.
type Synthesizer struct {
	registry *Registry
	opts     Options
	nowFunc  func() time.Time
}

// New creates a Synthesizer. A nil registry selects DefaultRegistry.
func New(reg *Registry, opts Options) *Synthesizer {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultOptions().Weights
	}
	if opts.StageBudget <= 0 {
		opts.StageBudget = DefaultOptions().StageBudget
	}
	return &Synthesizer{registry: reg, opts: opts, nowFunc: time.Now}
}

// SetNowFunc overrides the clock used for CreatedAt (for testing).
func (s *Synthesizer) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

// Synthesize requires exactly one result per stage. A low score is
// reported through Result.Validation, not as an error.
func (s *Synthesizer) Synthesize(results []types.StageResult) (*Result, error) {
	byStage, missing, err := index(results)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, quillerr.New(quillerr.CodeSynthesisMissingStage,
			fmt.Sprintf("synthesis requires every stage, missing %v", missing),
			quillerr.Field("missing", stageNames(missing)))
	}
	return s.synthesize(byStage, nil), nil
}

// SynthesizePartial accepts missing stages, reports each as missing data
// and marks the result degraded. It fails only on malformed input.
func (s *Synthesizer) SynthesizePartial(results []types.StageResult) (*Result, error) {
	byStage, missing, err := index(results)
	if err != nil {
		return nil, err
	}
	if len(byStage) == 0 {
		return nil, quillerr.New(quillerr.CodeSynthesisMissingStage, "synthesis needs at least one stage result")
	}
	return s.synthesize(byStage, missing), nil
}

func index(results []types.StageResult) (map[types.Stage]types.StageResult, []types.Stage, error) {
	byStage := make(map[types.Stage]types.StageResult, len(results))
	for _, r := range results {
		if !r.Stage.Valid() {
			return nil, nil, quillerr.New(quillerr.CodeSynthesisMissingStage,
				fmt.Sprintf("unknown stage %q", r.Stage), quillerr.FieldStage(string(r.Stage)))
		}
		if _, dup := byStage[r.Stage]; dup {
			return nil, nil, quillerr.New(quillerr.CodeSynthesisMissingStage,
				fmt.Sprintf("more than one result for stage %s", r.Stage), quillerr.FieldStage(string(r.Stage)))
		}
		byStage[r.Stage] = r
	}
	var missing []types.Stage
	for _, st := range types.Stages() {
		if _, ok := byStage[st]; !ok {
			missing = append(missing, st)
		}
	}
	return byStage, missing, nil
}

// present is one stage result with its projection, in stage order.
type present struct {
	result types.StageResult
	proj   projection
}

func (s *Synthesizer) synthesize(byStage map[types.Stage]types.StageResult, missing []types.Stage) *Result {
	var stages []present
	for _, st := range types.Stages() {
		if r, ok := byStage[st]; ok {
			stages = append(stages, present{result: r, proj: project(s.registry, r.Data)})
		}
	}

	quality := s.analyze(stages)
	conflicts := s.detect(stages)
	s.resolve(stages, conflicts)
	data := s.integrate(stages, conflicts)

	confidence := clamp01(s.opts.Weights.Consistency*quality.Consistency +
		s.opts.Weights.Completeness*quality.Completeness +
		s.opts.Weights.Accuracy*quality.Accuracy)

	res := &Result{
		Confidence: confidence,
		Data:       data,
		Conflicts:  conflicts,
		Quality:    quality,
		Sources:    mergeSources(stages),
		CreatedAt:  s.nowFunc(),
	}

	res.Validation.IsValid = confidence >= s.opts.MinConfidence
	if !res.Validation.IsValid {
		res.Validation.Issues = append(res.Validation.Issues,
			fmt.Sprintf("overall confidence %.2f is below the minimum %.2f", confidence, s.opts.MinConfidence))
	}
	for _, st := range missing {
		res.Validation.IsValid = false
		res.Validation.Issues = append(res.Validation.Issues, "missing result for stage "+string(st))
		res.Warnings = append(res.Warnings, fmt.Sprintf("stage %s produced no result", st))
		res.Conflicts = append(res.Conflicts, Conflict{
			Type:        ConflictMissing,
			Severity:    SeverityHigh,
			Stages:      []types.Stage{st},
			Fields:      s.fieldsOf(st),
			Description: fmt.Sprintf("stage %s produced no result", st),
		})
	}

	res.Degraded = len(missing) > 0
	for _, p := range stages {
		switch {
		case p.result.Degraded:
			res.Degraded = true
			w := fmt.Sprintf("stage %s produced degraded data", p.result.Stage)
			if p.result.Recovery != "" {
				w += " (recovery: " + p.result.Recovery + ")"
			}
			res.Warnings = append(res.Warnings, w)
		case !p.result.Success:
			res.Degraded = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("stage %s did not succeed", p.result.Stage))
		}
	}
	res.Success = res.Validation.IsValid
	res.Recommendations = s.recommend(res, stages)

	metrics.SynthesisConfidence.Observe(confidence)
	for _, c := range res.Conflicts {
		metrics.SynthesisConflictsTotal.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}
	return res
}

func (s *Synthesizer) fieldsOf(st types.Stage) []string {
	var out []string
	for _, f := range s.registry.Fields {
		if f.producedBy(st) {
			out = append(out, f.Name)
		}
	}
	return out
}

// integrate merges payloads in stage order, later stages adding fields,
// then applies conflict resolutions so resolved fields keep the winning
// value.
func (s *Synthesizer) integrate(stages []present, conflicts []Conflict) map[string]any {
	data := make(map[string]any)
	for _, p := range stages {
		for k, v := range p.result.Data {
			data[k] = cloneValue(v)
		}
	}
	for _, c := range conflicts {
		if c.Resolution == nil {
			continue
		}
		for name, v := range c.Resolution.Values {
			f, ok := s.registry.Field(name)
			if !ok {
				continue
			}
			setPath(data, f.path(), cloneValue(v))
		}
	}
	return data
}

func (s *Synthesizer) recommend(res *Result, stages []present) []string {
	var out []string
	for _, c := range res.Conflicts {
		if c.Resolution != nil {
			continue
		}
		fields := strings.Join(c.Fields, ", ")
		switch c.Type {
		case ConflictMissing:
			out = append(out, fmt.Sprintf("Supply %s: %s", fields, c.Description))
		case ConflictLogic:
			out = append(out, fmt.Sprintf("Check %s: %s", fields, c.Description))
		case ConflictData:
			out = append(out, fmt.Sprintf("Review %s: %s", fields, c.Description))
		}
	}
	for _, p := range stages {
		if p.result.Degraded || !p.result.Success {
			out = append(out, fmt.Sprintf("Re-run stage %s once its providers recover", p.result.Stage))
		}
	}
	if res.Quality.Coverage < s.opts.LowCoverage {
		out = append(out, fmt.Sprintf("Field coverage is %.0f%%; broaden the plan or search queries", res.Quality.Coverage*100))
	}
	return out
}

func mergeSources(stages []present) []types.SourceAttribution {
	var out []types.SourceAttribution
	pos := make(map[string]int)
	for _, p := range stages {
		for _, src := range p.result.Sources {
			if i, ok := pos[src.SourceID]; ok {
				if src.Confidence > out[i].Confidence {
					out[i] = src
				}
				continue
			}
			pos[src.SourceID] = len(out)
			out = append(out, src)
		}
	}
	return out
}

func stageNames(stages []types.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
