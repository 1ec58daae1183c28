// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package synthesis

import (
	"math"
	"time"

	"github.com/sigil-dev/quill/pkg/types"
)

// maxVariance is the confidence variance that scores zero consistency.
// Confidences live in [0,1], so 0.25 is the largest variance possible.
const maxVariance = 0.25

func (s *Synthesizer) analyze(stages []present) QualityMetrics {
	var q QualityMetrics
	if len(stages) == 0 {
		return q
	}

	var mean float64
	for _, p := range stages {
		mean += p.result.Confidence
	}
	mean /= float64(len(stages))

	var variance float64
	succeeded := 0
	for _, p := range stages {
		d := p.result.Confidence - mean
		variance += d * d
		if p.result.Success {
			succeeded++
		}
	}
	variance /= float64(len(stages))

	q.Consistency = 1 - math.Min(1, variance/maxVariance)
	q.Completeness = float64(succeeded) / float64(len(types.Stages()))
	q.Coverage = s.coverage(stages)

	for _, p := range stages {
		sq := StageQuality{
			Stage:        p.result.Stage,
			Consistency:  clamp01(1 - math.Abs(p.result.Confidence-mean)),
			Completeness: s.stageCompleteness(p),
			Accuracy:     s.accuracy(p.result),
			Timeliness:   timeliness(p.result.Duration, s.opts.StageBudget),
			Reliability:  reliability(p.result),
		}
		q.Stages = append(q.Stages, sq)
		q.Accuracy += sq.Accuracy
		q.Timeliness += sq.Timeliness
		q.Reliability += sq.Reliability
	}
	n := float64(len(stages))
	q.Accuracy /= n
	q.Timeliness /= n
	q.Reliability /= n
	return q
}

// accuracy is the stage confidence less penalties for errors and degradation.
func (s *Synthesizer) accuracy(r types.StageResult) float64 {
	v := r.Confidence - s.opts.ErrorPenalty*float64(len(r.Errors))
	if r.Degraded {
		v -= s.opts.DegradedPenalty
	}
	return clamp01(v)
}

// coverage is the share of registry fields present in any payload.
func (s *Synthesizer) coverage(stages []present) float64 {
	if len(s.registry.Fields) == 0 {
		return 1
	}
	found := 0
	for _, f := range s.registry.Fields {
		for _, p := range stages {
			if _, ok := p.proj[f.Name]; ok {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(s.registry.Fields))
}

// stageCompleteness is the share of the stage's registry fields it produced.
func (s *Synthesizer) stageCompleteness(p present) float64 {
	expected, found := 0, 0
	for _, f := range s.registry.Fields {
		if !f.producedBy(p.result.Stage) {
			continue
		}
		expected++
		if _, ok := p.proj[f.Name]; ok {
			found++
		}
	}
	if expected == 0 {
		return 1
	}
	return float64(found) / float64(expected)
}

func timeliness(d, budget time.Duration) float64 {
	if d <= budget || d <= 0 {
		return 1
	}
	return float64(budget) / float64(d)
}

func reliability(r types.StageResult) float64 {
	switch {
	case r.Degraded:
		return 0.5
	case r.Success:
		return 1
	default:
		return 0
	}
}
