package shortlist

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const minTokenLen = 2

var stopwords = map[string]struct{}{
	"and": {}, "the": {}, "for": {}, "with": {}, "of": {}, "in": {}, "on": {},
	"to": {}, "by": {}, "or": {}, "an": {}, "at": {}, "from": {},
}

// Tokenize lowercases s, folds accents and splits it into unique letter/digit
// tokens in order of first appearance.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	folded := foldAccents(s)

	tokens := make([]string, 0, 16)
	seen := make(map[string]struct{}, 16)
	flush := func(b *strings.Builder) {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if utf8.RuneCountInString(tok) < minTokenLen {
			return
		}
		if _, stop := stopwords[tok]; stop {
			return
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush(&b)
	}
	flush(&b)
	return tokens
}

func foldAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
