package protectx

import "testing"

func TestZeroMarkIsNoop(t *testing.T) {
	if err := Mark(0, 0); err != nil {
		t.Fatalf("Mark with fd=0, mark=0 should be a no-op, got: %v", err)
	}
}

func TestProtectorZeroMarkIsNoop(t *testing.T) {
	p := Protector{Mark: 0}
	if err := p.Protect(0); err != nil {
		t.Fatalf("Protector{Mark:0}.Protect should be a no-op, got: %v", err)
	}
}
