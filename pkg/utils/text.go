package utils

import "unicode/utf8"

// TruncateRunes shortens s to at most limit runes, appending suffix when it was cut
func TruncateRunes(s string, limit int, suffix string) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + suffix
}
