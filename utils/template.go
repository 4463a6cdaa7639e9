package utils

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_]+)\s*\}\}`)

// SubstituteVariables replaces {{placeholder}} tokens with values from vars.
// Lookup is case-insensitive; placeholders with no value resolve to an empty
// string rather than being left in the output.
func SubstituteVariables(text string, vars map[string]string) string {
	if text == "" {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		return vars[strings.ToLower(key)]
	})
}
