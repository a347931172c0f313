package sulpher

import (
	"strings"
	"unicode"
)

// Canonicalize normalises a query string for use as a cache key: runs of
// whitespace collapse to one space, everything outside string literals is
// lower-cased, and string literals keep their exact content and quoting.
func Canonicalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	runes := []rune(strings.TrimSpace(query))
	inSpace := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\'' || r == '"' {
			if inSpace {
				b.WriteRune(' ')
				inSpace = false
			}
			quote := r
			b.WriteRune(quote)
			for i++; i < len(runes); i++ {
				b.WriteRune(runes[i])
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
					b.WriteRune(runes[i])
					continue
				}
				if runes[i] == quote {
					break
				}
			}
			continue
		}

		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteRune(' ')
			inSpace = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
