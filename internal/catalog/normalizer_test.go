package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"lowercases and trims", "  Widget A  ", "widget a"},
		{"removes ascii bracket span", "widget a (export)", "widget a"},
		{"removes fullwidth bracket span", "精品苹果（出口装）", "精品苹果"},
		{"removes multiple bracket spans", "apple (red) juice (1L)", "apple juice"},
		{"strips standalone unit word", "apple 5 kg", "apple 5"},
		{"strips cjk unit word", "苹果 千克", "苹果"},
		{"keeps unit glued to digits", "apple 5kg", "apple 5kg"},
		{"keeps unit inside cjk word", "巧克力", "巧克力"},
		{"punctuation becomes space", "apple,juice/mix", "apple juice mix"},
		{"collapses whitespace", "a   b\t c", "a b c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	samples := []string{
		"",
		"Widget A",
		"widget a (export)",
		"  Mixed 苹果 5kg (大箱)  ",
		"a-kg-b",
		"((nested) span)",
		"精品苹果（出口装）500克",
		"kg",
		"5.斤.包",
	}
	for _, s := range samples {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "input %q", s)
	}
}
