package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

const minTermLen = 2

// Tokenize splits s into case-folded search terms. Identifiers are split on
// case boundaries and on '_', '-' and '.', and the joined form is kept as an
// extra term, so "LoginScreen" yields "login", "screen" and "loginscreen".
// Duplicates are preserved so callers can count term frequency.
func Tokenize(s string) []string {
	fold := cases.Fold()
	var out []string
	for _, chunk := range strings.FieldsFunc(s, isChunkSep) {
		var all []string
		parts := strings.FieldsFunc(chunk, isIdentSep)
		for _, part := range parts {
			words := splitCase(part)
			for _, w := range words {
				all = append(all, fold.String(w))
			}
			if len(words) > 1 {
				out = appendTerm(out, fold.String(part))
			}
		}
		for _, w := range all {
			out = appendTerm(out, w)
		}
		if len(parts) > 1 {
			out = appendTerm(out, strings.Join(all, ""))
		}
	}
	return out
}

// QueryTerms tokenizes a query and removes duplicates, keeping first-seen order.
func QueryTerms(q string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range Tokenize(q) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// termFrequencies counts each term produced by Tokenize.
func termFrequencies(texts ...string) map[string]int {
	tf := make(map[string]int)
	for _, text := range texts {
		for _, t := range Tokenize(text) {
			tf[t]++
		}
	}
	return tf
}

func appendTerm(out []string, t string) []string {
	if len([]rune(t)) < minTermLen {
		return out
	}
	return append(out, t)
}

func isChunkSep(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !isIdentSep(r)
}

func isIdentSep(r rune) bool {
	return r == '_' || r == '-' || r == '.'
}

// splitCase breaks an identifier at lower→upper transitions and before the
// last upper of an acronym run ("HTMLParser" → "HTML", "Parser").
func splitCase(s string) []string {
	rs := []rune(s)
	var words []string
	start := 0
	for i := 1; i < len(rs); i++ {
		prev, cur := rs[i-1], rs[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur) ||
			unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(rs) && unicode.IsLower(rs[i+1])
		if boundary {
			words = append(words, string(rs[start:i]))
			start = i
		}
	}
	if start < len(rs) {
		words = append(words, string(rs[start:]))
	}
	return words
}
