package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// defaultDenyTerms are always rejected regardless of configuration.
var defaultDenyTerms = []string{
	"mineur",
	"mineure",
	"enfant",
	"ado",
	"adolescente",
	"collegienne",
	"lyceenne",
	"underage",
	"minor",
	"child",
	"teen",
	"loli",
}

// DenyList matches folded, accent-insensitive whole words. A multi-word
// term matches only as a consecutive run of words.
type DenyList struct {
	// terms is keyed by the first word of each phrase.
	terms map[string][][]string
	size  int
}

// NewDenyList builds a deny-list from the built-in terms plus extra.
func NewDenyList(extra ...string) *DenyList {
	d := &DenyList{terms: make(map[string][][]string)}
	seen := make(map[string]struct{})
	for _, t := range append(append([]string(nil), defaultDenyTerms...), extra...) {
		phrase := words(fold(t))
		if len(phrase) == 0 {
			continue
		}
		key := strings.Join(phrase, " ")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		d.terms[phrase[0]] = append(d.terms[phrase[0]], phrase)
		d.size++
	}
	return d
}

// Match reports whether s contains a deny-listed word or phrase.
func (d *DenyList) Match(s string) bool {
	if d == nil || s == "" {
		return false
	}
	ws := words(fold(s))
	for i, w := range ws {
		for _, phrase := range d.terms[w] {
			if hasPrefix(ws[i:], phrase) {
				return true
			}
		}
	}
	return false
}

// Len returns the number of terms.
func (d *DenyList) Len() int {
	if d == nil {
		return 0
	}
	return d.size
}

func hasPrefix(ws, phrase []string) bool {
	if len(ws) < len(phrase) {
		return false
	}
	for i, p := range phrase {
		if ws[i] != p {
			return false
		}
	}
	return true
}

func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
