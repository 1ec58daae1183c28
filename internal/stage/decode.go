// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var errNoJSON = errors.New("no JSON object in model reply")

// decode converts a loosely typed payload into a typed view.
func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// decodeReply extracts the outermost JSON object from a model reply,
// ignoring any prose or code fences around it, and decodes it into out.
func decodeReply(content string, out any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return errNoJSON
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return err
	}
	return decode(raw, out)
}

// list converts strings to a JSON-shaped slice.
func list(xs []string) []any {
	out := make([]any, 0, len(xs))
	for _, x := range xs {
		out = append(out, x)
	}
	return out
}

// nonEmpty drops blank entries.
func nonEmpty(xs []string) []string {
	out := xs[:0:0]
	for _, x := range xs {
		if s := strings.TrimSpace(x); s != "" {
			out = append(out, s)
		}
	}
	return out
}
