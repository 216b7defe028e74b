package randx

import (
	"testing"
	"time"
)

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	jitter := 2 * time.Second
	for i := 0; i < 200; i++ {
		got := Jitter(base, jitter)
		if got < base-jitter || got > base+jitter {
			t.Fatalf("Jitter(%s, %s) = %s, out of bounds", base, jitter, got)
		}
	}
}

func TestJitterZero(t *testing.T) {
	base := 5 * time.Second
	if got := Jitter(base, 0); got != base {
		t.Fatalf("Jitter with zero jitter = %s, want %s", got, base)
	}
}

func TestUint32NotConstant(t *testing.T) {
	a := Uint32()
	b := Uint32()
	c := Uint32()
	if a == b && b == c {
		t.Fatalf("Uint32 returned the same value three times in a row: %d", a)
	}
}
