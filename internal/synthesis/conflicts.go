// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package synthesis

import (
	"fmt"
	"time"

	"github.com/sigil-dev/quill/pkg/types"
)

// detect compares the stage projections field by field in registry order,
// then checks the invariants.
func (s *Synthesizer) detect(stages []present) []Conflict {
	var conflicts []Conflict
	for _, f := range s.registry.Fields {
		var (
			contributors []types.Stage
			distinct     = make(map[string]bool)
		)
		for _, p := range stages {
			v, ok := p.proj[f.Name]
			if !ok {
				continue
			}
			contributors = append(contributors, p.result.Stage)
			distinct[canonical(f.Kind, v)] = true
		}

		switch {
		case len(contributors) == 0 && f.Required:
			conflicts = append(conflicts, Conflict{
				Type:        ConflictMissing,
				Severity:    SeverityHigh,
				Fields:      []string{f.Name},
				Stages:      append([]types.Stage(nil), f.Stages...),
				Description: fmt.Sprintf("required field %s is absent from every stage", f.Name),
			})
		case len(distinct) > 1:
			sev := SeverityMedium
			if f.Required {
				sev = SeverityHigh
			}
			conflicts = append(conflicts, Conflict{
				Type:        ConflictData,
				Severity:    sev,
				Fields:      []string{f.Name},
				Stages:      contributors,
				Description: fmt.Sprintf("stages report %d different values for %s", len(distinct), f.Name),
			})
		}
	}

	for _, inv := range s.registry.Invariants {
		var violators []types.Stage
		for _, p := range stages {
			if ok, checked := holds(inv, p.proj); checked && !ok {
				violators = append(violators, p.result.Stage)
			}
		}
		if len(violators) > 0 {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictLogic,
				Severity:    SeverityCritical,
				Fields:      []string{inv.Start, inv.End},
				Stages:      violators,
				Description: fmt.Sprintf("%s is not after %s", inv.End, inv.Start),
			})
		}
	}
	return conflicts
}

// holds evaluates inv against one projection. checked is false when either
// side is absent or unparseable.
func holds(inv Invariant, p projection) (ok, checked bool) {
	start, ok1 := dateField(p, inv.Start)
	end, ok2 := dateField(p, inv.End)
	if !ok1 || !ok2 {
		return false, false
	}
	return end.After(start), true
}

func dateField(p projection, name string) (time.Time, bool) {
	s, ok := p[name].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := parseDate(s)
	return t, err == nil
}

// resolve settles each conflict in favour of the most confident
// contributing stage. Ties go to the earlier stage.
func (s *Synthesizer) resolve(stages []present, conflicts []Conflict) {
	byStage := make(map[types.Stage]present, len(stages))
	for _, p := range stages {
		byStage[p.result.Stage] = p
	}

	for i := range conflicts {
		c := &conflicts[i]
		switch c.Type {
		case ConflictData:
			if best, ok := mostConfident(c.Stages, byStage); ok {
				name := c.Fields[0]
				c.Resolution = &Resolution{
					Source:     best.result.Stage,
					Confidence: best.result.Confidence,
					Values:     map[string]any{name: cloneValue(best.proj[name])},
				}
			}
		case ConflictLogic:
			inv := Invariant{Kind: InvariantBefore, Start: c.Fields[0], End: c.Fields[1]}
			var valid []types.Stage
			for _, p := range stages {
				if ok, checked := holds(inv, p.proj); checked && ok {
					valid = append(valid, p.result.Stage)
				}
			}
			if best, ok := mostConfident(valid, byStage); ok {
				c.Resolution = &Resolution{
					Source:     best.result.Stage,
					Confidence: best.result.Confidence,
					Values: map[string]any{
						inv.Start: best.proj[inv.Start],
						inv.End:   best.proj[inv.End],
					},
				}
			}
		}
	}
}

func mostConfident(candidates []types.Stage, byStage map[types.Stage]present) (present, bool) {
	var (
		best  present
		found bool
	)
	for _, st := range candidates {
		p, ok := byStage[st]
		if !ok {
			continue
		}
		if !found || p.result.Confidence > best.result.Confidence {
			best, found = p, true
		}
	}
	return best, found
}
