// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// HashInput returns a stable hash of a stage input. encoding/json sorts
// map keys, so equal payloads hash equally.
func HashInput(input map[string]any) string {
	b, err := json.Marshal(input)
	if err != nil {
		// unmarshalable values still get a deterministic, if coarse, key
		b = []byte(strings.Join(sortedKeys(input), ","))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Embed maps a stage input onto a unit vector of the given size by
// hashing its lower-cased word tokens into signed buckets. Inputs sharing
// many words land close together.
func Embed(input map[string]any, dims int) []float32 {
	vec := make([]float32, dims)
	if dims <= 0 {
		return vec
	}
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			for _, tok := range strings.FieldsFunc(strings.ToLower(x), func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			}) {
				h := fnv.New32a()
				_, _ = h.Write([]byte(tok))
				sum := h.Sum32()
				sign := float32(1)
				if sum&1 == 1 {
					sign = -1
				}
				vec[int(sum>>1)%dims] += sign
			}
		case []any:
			for _, e := range x {
				walk(e)
			}
		case []string:
			for _, e := range x {
				walk(e)
			}
		case map[string]any:
			for _, k := range sortedKeys(x) {
				walk(x[k])
			}
		}
	}
	walk(input)

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
