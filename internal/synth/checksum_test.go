package synth

import "testing"

func TestCalcAssociative(t *testing.T) {
	a := []byte{0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00}
	b := []byte{0x40, 0x06, 0x00, 0x00, 0xac, 0x10, 0x0a, 0x63}
	whole := append(append([]byte{}, a...), b...)

	want := Calc(whole, 0)

	partial := CalcPartial(a, 0)
	partial = CalcPartial(b, partial)
	got := Fold(partial)

	if got != want {
		t.Fatalf("split checksum = %#04x, whole checksum = %#04x", got, want)
	}
}

func TestCalcZeroBuffer(t *testing.T) {
	zeros := make([]byte, 20)
	if got := Calc(zeros, 0); got != 0xffff {
		t.Fatalf("Calc(zeros) = %#04x, want 0xffff", got)
	}
}

func TestCalcOddLength(t *testing.T) {
	odd := []byte{0x01, 0x02, 0x03}
	zeroPadded := []byte{0x01, 0x02, 0x03, 0x00}
	if Calc(odd, 0) != Calc(zeroPadded, 0) {
		t.Fatalf("odd-length checksum %#04x != explicitly zero-padded checksum %#04x", Calc(odd, 0), Calc(zeroPadded, 0))
	}

	nonZeroPadded := []byte{0x01, 0x02, 0x03, 0xff}
	if Calc(odd, 0) == Calc(nonZeroPadded, 0) {
		t.Fatalf("checksum unchanged when the trailing byte actually differs")
	}
}
