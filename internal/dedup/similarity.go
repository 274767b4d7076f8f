package dedup

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenLen is the exclusive lower bound on token length.
const minTokenLen = 3

// eventPatterns flag newsworthy event terms: disasters, conflict, politics,
// health, civil unrest and announcements.
var eventPatterns = compilePatterns(
	"earthquake", "tsunami", "hurricane", "flood", "fire",
	"explosion", "attack", "crash", "collision",
	"election", "vote", "summit", "treaty", "sanctions",
	"outbreak", "pandemic", "virus", "disease",
	"protest", "strike", "riot", "demonstration",
	"launched", "announced", "revealed", "discovered",
)

type eventPattern struct {
	keyword string
	re      *regexp.Regexp
}

func compilePatterns(words ...string) []eventPattern {
	out := make([]eventPattern, len(words))
	for i, w := range words {
		out[i] = eventPattern{keyword: w, re: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(w))}
	}
	return out
}

// Tokens lower-cases s, splits it on whitespace, trims surrounding
// punctuation and keeps tokens longer than three characters.
func Tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		tok := trimPunct(f)
		if utf8.RuneCountInString(tok) > minTokenLen {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b| over the token sets of two strings, or 0
// when either set is empty.
func Jaccard(a, b string) float64 {
	return jaccardSets(Tokens(a), Tokens(b))
}

func jaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Keywords extracts event terms and capitalized words (a proxy for proper
// nouns) from text. All keywords are lower-case.
func Keywords(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range eventPatterns {
		if p.re.MatchString(text) {
			set[p.keyword] = struct{}{}
		}
	}
	for _, f := range strings.Fields(text) {
		word := trimPunct(f)
		if utf8.RuneCountInString(word) <= minTokenLen {
			continue
		}
		first, _ := utf8.DecodeRuneInString(word)
		if unicode.IsUpper(first) {
			set[strings.ToLower(word)] = struct{}{}
		}
	}
	return set
}

func sharedCount(a, b map[string]struct{}) int {
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
