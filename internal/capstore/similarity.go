package capstore

import "strings"

// Similarity scores two questions' token overlap as a value in [0, 1]
// using the Jaccard index over normalized word sets — a cheap fallback
// for near-duplicate questions whose exact normalized hash didn't match
// (§4.3's optional MAY-implement similarity fallback over a small
// candidate set).
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Candidate is a narrow view of a stored capsule used for similarity
// scanning, avoiding a dependency on the full capsule.KnowledgeCapsule
// type for this optional fallback path.
type Candidate struct {
	CapsuleID    string
	QuestionText string
}

// FindSimilar scans candidates for the highest-scoring question at or
// above threshold, returning its capsule_id and score. It returns ok=false
// if nothing clears the threshold.
func FindSimilar(question string, candidates []Candidate, threshold float64) (capsuleID string, score float64, ok bool) {
	best := -1.0
	for _, c := range candidates {
		s := Similarity(question, c.QuestionText)
		if s >= threshold && s > best {
			best = s
			capsuleID = c.CapsuleID
		}
	}
	if best < 0 {
		return "", 0, false
	}
	return capsuleID, best, true
}
