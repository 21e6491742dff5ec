package capstore

import "testing"

func TestSimilarity_IdenticalQuestionsScoreOne(t *testing.T) {
	if s := Similarity("what is the torque spec", "what is the torque spec"); s != 1.0 {
		t.Errorf("expected score 1.0, got %f", s)
	}
}

func TestSimilarity_DisjointQuestionsScoreZero(t *testing.T) {
	if s := Similarity("torque spec bolt", "battery voltage range"); s != 0 {
		t.Errorf("expected score 0, got %f", s)
	}
}

func TestFindSimilar_PicksHighestAboveThreshold(t *testing.T) {
	candidates := []Candidate{
		{CapsuleID: "low", QuestionText: "completely different topic"},
		{CapsuleID: "high", QuestionText: "what is the torque spec for bolt a12"},
	}
	id, score, ok := FindSimilar("what is the torque spec for bolt a12 exactly", candidates, 0.5)
	if !ok {
		t.Fatal("expected a match above threshold")
	}
	if id != "high" {
		t.Errorf("expected high to win, got %q (score %f)", id, score)
	}
}

func TestFindSimilar_NoneAboveThreshold(t *testing.T) {
	candidates := []Candidate{{CapsuleID: "a", QuestionText: "unrelated"}}
	if _, _, ok := FindSimilar("totally different", candidates, 0.9); ok {
		t.Error("expected no match above threshold")
	}
}
