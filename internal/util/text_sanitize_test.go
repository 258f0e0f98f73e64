package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"nul and controls", "ab\x00cd\x01\x02\n\txy", "abcd\n\txy"},
		{"line endings", "line one\r\nline two\rline three\fpage", "line one\nline two\nline three\npage"},
		{"soft hyphen and nbsp", "homo\u00admorphism\u00a0groups", "homomorphism groups"},
		{"delete char", "a\x7fb", "ab"},
		{"trims", "  \n Theorem 2.1 \n ", "Theorem 2.1"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SanitizeText(tc.in))
		})
	}
}
