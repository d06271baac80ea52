package syncer

import (
	"path"
	"strings"
	"unicode"

	"github.com/starford/mnemo/internal/source"
)

// embeddingText assembles the text embedded for an entry. An entry without
// any prose falls back to its humanised file name so every file gets a
// vector.
func embeddingText(e source.Entry) string {
	var parts []string
	for _, s := range []string{e.Summary, e.Purpose} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	for _, k := range e.KeyLogic {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, k)
		}
	}
	if len(parts) == 0 {
		return humanizeFilename(e.Path)
	}
	return strings.Join(parts, "\n")
}

// humanizeFilename turns "src/LoginScreen.tsx" into "login screen".
func humanizeFilename(p string) string {
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	rs := []rune(base)
	for i, r := range rs {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(rs[i-1]) ||
			(i+1 < len(rs) && unicode.IsUpper(rs[i-1]) && unicode.IsLower(rs[i+1]))):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	if len(words) == 0 {
		return p
	}
	return strings.Join(words, " ")
}
