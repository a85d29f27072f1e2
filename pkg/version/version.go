// Package version compares dotted release version strings.
package version

import "strings"

// IsNewer reports whether candidate is strictly newer than current.
//
// Each dot-separated segment is read as its leading decimal digits; a segment
// without digits, or a missing segment, counts as 0, so "v2" reads as 0.
// Tags must go through Normalize first.
func IsNewer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// Compare returns -1, 0 or 1 as a is older than, equal to, or newer than b.
func Compare(a, b string) int {
	as := segments(a)
	bs := segments(b)

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		x, y := at(as, i), at(bs, i)
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

// Normalize strips surrounding whitespace and a leading "v" from a tag.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	return strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
}

func segments(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return strings.Split(v, ".")
}

func at(parts []string, i int) uint64 {
	if i >= len(parts) {
		return 0
	}
	return leadingNumber(parts[i])
}

func leadingNumber(s string) uint64 {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		d := uint64(r - '0')
		if n > (^uint64(0)-d)/10 {
			return ^uint64(0)
		}
		n = n*10 + d
	}
	return n
}
