// Package track defines the canonical cache identity for a playing track
// and the fuzzy fallback used to tolerate metadata drift between sources.
package track

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key is the canonical identity derived from artist and title. Both parts
// are case-folded, diacritic-stripped, cleared of special characters and
// whitespace-normalized, so the same recording resolves to the same key
// across differently-tagged sources.
type Key struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// NewKey normalizes artist and title into a Key.
func NewKey(artist, title string) Key {
	return Key{
		Artist: Normalize(artist),
		Title:  Normalize(title),
	}
}

// IsZero reports whether the key carries no identity at all.
func (k Key) IsZero() bool {
	return k.Artist == "" && k.Title == ""
}

// String returns the canonical storage form used as the cache key.
func (k Key) String() string {
	if k.Artist == "" {
		return k.Title
	}
	if k.Title == "" {
		return k.Artist
	}
	return k.Artist + " - " + k.Title
}

// ParseKey reconstructs a Key from its String form. Normalized parts never
// contain a hyphen, so the " - " separator is unambiguous. A string without
// a separator parses as title-only.
func ParseKey(s string) Key {
	parts := strings.SplitN(s, " - ", 2)
	if len(parts) == 2 {
		return Key{Artist: parts[0], Title: parts[1]}
	}
	return Key{Title: parts[0]}
}

// Filename returns a sanitized deterministic file name for media storage.
// The extension is appended as given.
func (k Key) Filename(ext string) string {
	a := strings.ReplaceAll(k.Artist, " ", "_")
	t := strings.ReplaceAll(k.Title, " ", "_")
	switch {
	case a == "":
		return t + ext
	case t == "":
		return a + ext
	default:
		return a + "__" + t + ext
	}
}

// ParseFilename reconstructs a Key from a media file name produced by
// Filename, or from a hand-dropped file named the same way. The extension
// is ignored. Single-part names parse as title-only.
func ParseFilename(name string) Key {
	base := name
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	parts := strings.SplitN(base, "__", 2)
	unesc := func(s string) string {
		return Normalize(strings.ReplaceAll(s, "_", " "))
	}
	if len(parts) == 2 {
		return Key{Artist: unesc(parts[0]), Title: unesc(parts[1])}
	}
	return Key{Title: unesc(parts[0])}
}

// Keywords returns the deduplicated word set of artist and title,
// used by the fuzzy fallback match.
func (k Key) Keywords() []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(k.Artist + " " + k.Title) {
		if !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	return words
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize case-folds, removes diacritics, strips special characters and
// collapses whitespace. The output is stable for any input ordering of
// equivalent Unicode forms.
func Normalize(s string) string {
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FuzzyMatch scans candidates for a keyword-subset match against key: a
// candidate matches when one side's keywords are all contained in the
// other's. The first match in the given order wins; callers pass candidates
// in a stable order so repeated lookups resolve the same way.
func FuzzyMatch(key Key, candidates []Key) (Key, bool) {
	queryWords := key.Keywords()
	if len(queryWords) == 0 {
		return Key{}, false
	}

	for _, cand := range candidates {
		candWords := cand.Keywords()
		if len(candWords) == 0 {
			continue
		}
		if subset(queryWords, candWords) || subset(candWords, queryWords) {
			return cand, true
		}
	}
	return Key{}, false
}

// subset reports whether every word of a appears in b.
func subset(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	for _, w := range a {
		if !set[w] {
			return false
		}
	}
	return true
}
