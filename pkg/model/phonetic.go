package model

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80

	// Tokens shorter than this produce too many accidental metaphone
	// collisions ("a", "to", "the").
	minPhoneticLen = 4
)

// phoneticMatcher compares transcript tokens against single-word keywords
// using Double Metaphone for candidate filtering and Jaro-Winkler for ranking.
type phoneticMatcher struct {
	threshold float64
}

func newPhoneticMatcher(threshold float64) *phoneticMatcher {
	return &phoneticMatcher{threshold: threshold}
}

// match returns the best scoring keyword whose metaphone codes overlap a
// token's codes. Ties keep the order of table.
func (m *phoneticMatcher) match(tokens []string, table []keyword) (ID, bool) {
	var (
		bestID    ID
		bestScore float64
	)
	for _, tok := range tokens {
		tok = strings.Trim(tok, ",.!?;:")
		if len(tok) < minPhoneticLen {
			continue
		}
		tokCodes := metaphoneCodes(tok)
		for _, k := range table {
			if strings.ContainsAny(k.phrase, " -") {
				continue
			}
			if !overlaps(tokCodes, metaphoneCodes(k.phrase)) {
				continue
			}
			score := matchr.JaroWinkler(tok, k.phrase, false)
			if score >= m.threshold && score > bestScore {
				bestID, bestScore = k.id, score
			}
		}
	}
	return bestID, bestID != ""
}

func metaphoneCodes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	codes := make([]string, 0, 2)
	if p != "" {
		codes = append(codes, p)
	}
	if s != "" && s != p {
		codes = append(codes, s)
	}
	return codes
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
