// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage

import (
	"strings"
	"time"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Request is the external input of a run.
type Request struct {
	Topic       string `mapstructure:"topic" json:"topic"`
	Audience    string `mapstructure:"audience" json:"audience,omitempty"`
	WindowStart string `mapstructure:"window_start" json:"window_start,omitempty"`
	WindowEnd   string `mapstructure:"window_end" json:"window_end,omitempty"`
}

// ParseRequest validates run input. Window bounds accept a date
// (2006-01-02) or an RFC 3339 timestamp.
func ParseRequest(input map[string]any) (Request, error) {
	var r Request
	if err := decode(input, &r); err != nil {
		return r, quillerr.Wrap(err, quillerr.CodePipelineInputInvalid, "decoding request")
	}

	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return r, quillerr.New(quillerr.CodePipelineInputInvalid, "request: topic is required")
	}
	for _, w := range []struct{ name, value string }{
		{"window_start", r.WindowStart},
		{"window_end", r.WindowEnd},
	} {
		if w.value == "" {
			continue
		}
		if _, err := ParseTime(w.value); err != nil {
			return r, quillerr.New(quillerr.CodePipelineInputInvalid,
				"request: "+w.name+" must be a date or RFC 3339 timestamp, got "+w.value)
		}
	}
	return r, nil
}

// Normalize validates input and returns it as the planning stage payload.
func Normalize(input map[string]any) (map[string]any, error) {
	r, err := ParseRequest(input)
	if err != nil {
		return nil, err
	}
	return r.Map(), nil
}

// Map returns the request as a stage payload.
func (r Request) Map() map[string]any {
	return brief{
		Topic:       r.Topic,
		Audience:    r.Audience,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
	}.fields()
}

// ParseTime parses a date or RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// brief holds the identity fields every stage carries forward.
type brief struct {
	Topic       string `mapstructure:"topic"`
	Audience    string `mapstructure:"audience"`
	Title       string `mapstructure:"title"`
	WindowStart string `mapstructure:"window_start"`
	WindowEnd   string `mapstructure:"window_end"`
}

func (b brief) fields() map[string]any {
	out := make(map[string]any, 5)
	for k, v := range map[string]string{
		"topic":        b.Topic,
		"audience":     b.Audience,
		"title":        b.Title,
		"window_start": b.WindowStart,
		"window_end":   b.WindowEnd,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func (b brief) titleOrDefault() string {
	if b.Title != "" {
		return b.Title
	}
	if b.Topic != "" {
		return "Research brief: " + b.Topic
	}
	return "Untitled research brief"
}
