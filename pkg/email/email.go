// Package email derives human-readable name fields from email
// addresses. Payloads synthesized from an email profile key use it to
// fill given and family name fields the way a real vendor response
// would.
package email

import (
	"strings"
	"unicode"
)

// SplitName guesses a given and family name from the local part of an
// email address: "ada.lovelace@acme.dev" yields ("Ada", "Lovelace").
// Single-token locals yield only a given name; an empty local part
// yields neither.
func SplitName(addr string) (given, family string) {
	local := addr
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		local = addr[:at]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "", ""
	}

	given = capitalize(parts[0])
	if len(parts) > 1 {
		family = capitalize(parts[len(parts)-1])
	}
	return given, family
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
