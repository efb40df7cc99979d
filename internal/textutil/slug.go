package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength bounds the title part of a slug.
const MaxSlugLength = 60

var lower = cases.Lower(language.Und)

// StripMarks removes diacritics ("Café" becomes "Cafe").
func StripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slugify converts a title into a URL-safe lower-case slug of ASCII letters,
// digits and single hyphens. It returns "" when nothing usable remains.
func Slugify(title string) string {
	folded := lower.String(StripMarks(strings.TrimSpace(title)))
	var b strings.Builder
	pendingHyphen := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
		if b.Len() >= MaxSlugLength {
			break
		}
	}
	out := b.String()
	if len(out) > MaxSlugLength {
		out = out[:MaxSlugLength]
	}
	return strings.Trim(out, "-")
}

// NormalizeTag trims, strips marks and lower-cases a tag, collapsing inner
// whitespace to single spaces.
func NormalizeTag(tag string) string {
	fields := strings.Fields(lower.String(StripMarks(tag)))
	return strings.Join(fields, " ")
}
