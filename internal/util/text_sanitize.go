package util

import "strings"

var pageTextReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\f", "\n",
	"\u00ad", "",
	"\u00a0", " ",
)

// SanitizeText cleans extracted page text: NUL and other control characters
// (which Postgres text columns reject) are dropped, line endings and form
// feeds become '\n', soft hyphens disappear and non-breaking spaces become
// plain spaces.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = pageTextReplacer.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch < 0x20 && ch != '\n' && ch != '\t' {
			continue
		}
		if ch == 0x7f {
			continue
		}
		b.WriteRune(ch)
	}
	return strings.TrimSpace(b.String())
}
