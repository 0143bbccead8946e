// Package strings provides string list normalization shared by configuration
// and signal producers.
package strings

import (
	"strings"
)

// DedupeFunc trims each element, applies normalize, and drops empty results
// and repeats. Order of first occurrence is preserved.
func DedupeFunc(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := strings.TrimSpace(v)
		if normalize != nil {
			n = normalize(n)
		}
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}

// DedupeAndTrim removes duplicates and blanks.
//
//	DedupeAndTrim([]string{"  a:9092 ", "b:9092", "a:9092", ""})
//	// []string{"a:9092", "b:9092"}
func DedupeAndTrim(values []string) []string {
	return DedupeFunc(values, nil)
}

// DedupeAndTrimUpper is DedupeAndTrim for case-insensitive codes such as
// ISO 3166 country codes.
func DedupeAndTrimUpper(values []string) []string {
	return DedupeFunc(values, strings.ToUpper)
}
