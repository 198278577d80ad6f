// Package stringutil holds the small identifier-normalization helpers shared
// by the spec transformer and command synthesizer.
package stringutil

import (
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)
var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// Kebab converts an identifier of any common casing (camelCase, PascalCase,
// snake_case, space separated) into lower kebab-case.
//
//	Kebab("getUserById")   // "get-user-by-id"
//	Kebab("List Users")    // "list-users"
//	Kebab("already-kebab") // "already-kebab"
func Kebab(s string) string {
	if s == "" {
		return s
	}
	s = camelBoundary.ReplaceAllString(s, "${1}-${2}")
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = strings.ToLower(s)
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}

// KebabTag tokenizes an OpenAPI tag the way the Spec Transformer derives a
// command group name (spec.md §4.2): lower-cased, non-alphanumeric runs
// collapsed to a single "-".
func KebabTag(tag string) string {
	if tag == "" {
		return "default"
	}
	return Kebab(tag)
}
