package zconst

import (
	"regexp"
	"strings"
)

var (
	underFirst  = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	underSecond = regexp.MustCompile(`([a-z\d])([A-Z])`)
)

// ToUnder converts a PascalCase or camelCase name to snake_case. Names
// already in snake_case pass through unchanged.
func ToUnder(word string) string {
	word = underFirst.ReplaceAllString(word, "${1}_${2}")
	word = underSecond.ReplaceAllString(word, "${1}_${2}")
	word = strings.ReplaceAll(word, "-", "_")
	return strings.ToLower(word)
}
