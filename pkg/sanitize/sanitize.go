package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRun = regexp.MustCompile(`[ \t]{2,}`)

// CleanText normalizes free text typed during a consultation: chat
// messages, note content, screenshot descriptions. Control characters are
// stripped, whitespace runs collapsed and the result trimmed. The text
// itself is stored verbatim otherwise; clinical wording must not be
// altered.
func CleanText(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	for _, r := range input {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	out := whitespaceRun.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(out)
}
