package coap

import "testing"

func TestMessageIDGeneratorNeverYieldsZero(t *testing.T) {
	g := &MessageIDGenerator{next: 0xFFFE}
	for i := 0; i < 4; i++ {
		id := g.Next()
		if id == 0 {
			t.Fatalf("Next() returned 0 at iteration %d", i)
		}
	}
}

func TestMessageIDGeneratorMonotonicBeforeWrap(t *testing.T) {
	g := &MessageIDGenerator{next: 100}
	first := g.Next()
	second := g.Next()
	if second != first+1 {
		t.Fatalf("Next() sequence = %d, %d, want consecutive", first, second)
	}
}

func TestNewMessageIDGeneratorStartsNonZero(t *testing.T) {
	g := NewMessageIDGenerator()
	if g.next == 0 {
		t.Fatalf("NewMessageIDGenerator: next = 0")
	}
}
