package catalog

import (
	"strings"
	"time"
)

// Layout order matters: full dates are tried before year-month forms and
// the bare year comes last, so the most specific parse wins.
var periodLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006-01",
	"2006/01",
	"2006.01",
	"2006",
}

// ResolvePeriod turns a heterogeneous date cell, plus an optional fallback
// month, into a YYYY-MM period key. Returns the empty string when nothing
// resolves; substituting the current month in that case is the caller's
// decision, not this function's.
func ResolvePeriod(rowValue, fallback string) string {
	if s := strings.TrimSpace(rowValue); s != "" {
		for _, layout := range periodLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01")
			}
		}
	}
	if gm := strings.TrimSpace(fallback); gm != "" {
		// Code points, not bytes; a multibyte fallback must not be cut
		// mid-rune.
		if r := []rune(gm); len(r) >= 7 {
			return string(r[:7])
		}
		if t, err := time.Parse("200601", gm); err == nil {
			return t.Format("2006-01")
		}
	}
	return ""
}
