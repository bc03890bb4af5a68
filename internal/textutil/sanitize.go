package textutil

import "strings"

// SanitizeSegment maps value onto [A-Za-z0-9._-], replacing anything else
// with an underscore. Values that would resolve to "", "." or ".." return
// fallback.
func SanitizeSegment(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.Trim(out, ".") == "" {
		return fallback
	}
	return out
}
