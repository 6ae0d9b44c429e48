// Package metric converts abbreviated human-readable counts ("1.2K", "3M",
// "12,345") from feed markup into exact integers.
package metric

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// countPattern matches the first abbreviated count inside a longer label,
// e.g. "1,234 Likes. Like" -> "1,234".
var countPattern = regexp.MustCompile(`([\d,\.]+[KMB]?)`)

// Parse converts an abbreviated count string to an integer. Suffixes K, M and
// B (case-insensitive) multiply by 1e3, 1e6 and 1e9; thousands separators are
// ignored. Unparsable or empty input yields 0, never an error.
func Parse(raw string) int {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.Contains(s, "K"):
		multiplier = 1e3
		s = strings.ReplaceAll(s, "K", "")
	case strings.Contains(s, "M"):
		multiplier = 1e6
		s = strings.ReplaceAll(s, "M", "")
	case strings.Contains(s, "B"):
		multiplier = 1e9
		s = strings.ReplaceAll(s, "B", "")
	}
	s = strings.ReplaceAll(s, ",", "")

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(math.Round(val * multiplier))
}

// ParseLabeled resolves a count that has two textual sources: an accessible
// label and the visible text. The label wins when it contains a parseable
// count group; otherwise the visible text is parsed directly.
func ParseLabeled(label, visible string) int {
	if label != "" {
		if m := countPattern.FindString(label); m != "" {
			return Parse(m)
		}
	}
	return Parse(visible)
}
