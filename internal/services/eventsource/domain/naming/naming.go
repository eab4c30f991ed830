// Package naming holds the identifier rules shared by aggregate types, event
// kinds and command names.
package naming

import (
	"regexp"
	"strings"
	"unicode"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// IsIdentifier reports whether s is a dotted identifier such as "Counter" or
// "billing.InvoiceIssued".
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// HasWhitespace reports whether s contains any unicode whitespace.
func HasWhitespace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
