package taxonomy

import (
	"strings"
)

// pathDelimiters are the separators seen in marketplace-provided paths.
const pathDelimiters = "/|>→»"

// NormalizePath splits a marketplace-provided path on any known delimiter,
// trims the segments and drops a leading "Root" segment.
func NormalizePath(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(pathDelimiters, r)
	})
	return normalizeSegments(parts)
}

func normalizeSegments(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && strings.EqualFold(out[0], "root") {
		out = out[1:]
	}
	return out
}
