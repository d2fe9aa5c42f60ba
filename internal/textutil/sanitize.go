// Package textutil holds small text helpers shared by staging and delivery.
package textutil

import "strings"

// SanitizeFileName strips filesystem-unsafe characters from a name destined
// for staging or output paths. Path separators and colons become dashes;
// other reserved characters are dropped.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '-'
		case '?', '"', '<', '>', '|':
			return -1
		default:
			return r
		}
	}, name)
	return strings.TrimSpace(mapped)
}

// SanitizeToken converts a string to a lowercase filesystem-safe token used
// for per-requester delivery subdirectories. Returns "unknown" for input
// that sanitizes to nothing.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}
