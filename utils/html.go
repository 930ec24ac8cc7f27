package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// plainTextPolicy keeps nothing but line breaks.
var plainTextPolicy = bluemonday.NewPolicy().AllowElements("br")

// PlainTextHTML renders user-supplied text as an HTML fragment. The text is
// escaped rather than stripped, so "n<k" survives as "n&lt;k"; newlines
// become <br/>.
func PlainTextHTML(text string) string {
	escaped := html.EscapeString(strings.TrimSpace(text))
	escaped = strings.ReplaceAll(escaped, "\n", "<br/>")
	return plainTextPolicy.Sanitize(escaped)
}
