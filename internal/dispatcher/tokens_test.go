package dispatcher

import "testing"

func TestEstimateTokens_NonEmptyTextYieldsPositiveCount(t *testing.T) {
	n, ok := estimateTokens("the quick brown fox jumps over the lazy dog")
	if !ok {
		t.Fatal("expected tokenizer to be available for ascii text")
	}
	if n <= 0 {
		t.Fatalf("expected a positive token count, got %d", n)
	}
}

func TestEstimateTokens_EmptyTextIsNotOK(t *testing.T) {
	if _, ok := estimateTokens(""); ok {
		t.Fatal("expected empty text to yield ok=false")
	}
}
