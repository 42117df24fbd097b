// Package pstate parses GPU performance-state labels such as "P0" or "P8".
// Lower numbers mean higher performance.
package pstate

import (
	"strconv"
	"strings"
)

// Parse returns the numeric state of a label. Only "P" or "p" followed by one
// or more ASCII digits is accepted, after trimming surrounding spaces.
func Parse(label string) (int, bool) {
	label = strings.TrimSpace(label)
	if len(label) < 2 || (label[0] != 'P' && label[0] != 'p') {
		return 0, false
	}
	digits := label[1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Format renders a numeric state as "P<n>".
func Format(n int) string {
	return "P" + strconv.Itoa(n)
}

// Best returns the highest-performance state among labels. Labels that do not
// parse are ignored; when none parse the result is empty.
func Best(labels ...string) string {
	best := -1
	for _, label := range labels {
		n, ok := Parse(label)
		if !ok {
			continue
		}
		if best < 0 || n < best {
			best = n
		}
	}
	if best < 0 {
		return ""
	}
	return Format(best)
}
