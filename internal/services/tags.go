package services

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	htmlTagRegex   = regexp.MustCompile(`<[^>]*>`)
	nonLetterRegex = regexp.MustCompile(`[^\p{L}]+`)
)

// normalizeTag cleans one raw tag value: markup stripped, entities
// unescaped, Unicode composed and case folded. A Caser is stateful, so one
// is created per call.
func normalizeTag(tag string) string {
	cleaned := htmlTagRegex.ReplaceAllString(tag, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = norm.NFC.String(cleaned)
	cleaned = cases.Fold().String(cleaned)
	return strings.TrimSpace(cleaned)
}

// tokenizeTags splits tags into letter-only tokens of at least two runes.
// Digits and punctuation act as separators.
func tokenizeTags(tags []string) []string {
	var tokens []string
	for _, tag := range tags {
		for _, token := range nonLetterRegex.Split(normalizeTag(tag), -1) {
			if utf8.RuneCountInString(token) >= 2 {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// normalizeAttribute trims and case folds a categorical value so that
// "Nike" and "nike " encode to the same one-hot column.
func normalizeAttribute(value string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(value)))
}
