package lane

import "testing"

func TestLane0_AlignedAddress(t *testing.T) {
	b := Lane0(0x100, 4, 4)
	if b.Lower != 0 || b.Upper != 3 {
		t.Fatalf("Lane0(0x100,4,4) = %+v, want {0 3}", b)
	}
}

func TestLane0_UnalignedNarrowTransfer(t *testing.T) {
	// 4-byte bus, 1-byte transfer at address 0x101: byte 1 of the word.
	b := Lane0(0x101, 4, 1)
	if b.Lower != 1 || b.Upper != 1 {
		t.Fatalf("Lane0(0x101,4,1) = %+v, want {1 1}", b)
	}
}

func TestStrobe_MatchesLaneRange(t *testing.T) {
	got := Strobe(Beat{Lower: 1, Upper: 2})
	want := uint64(0b0110)
	if got != want {
		t.Fatalf("Strobe = %#b, want %#b", got, want)
	}
}

func TestApplyStrobe_OnlySelectedLanesWritten(t *testing.T) {
	dst := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	src := []byte{0x01, 0x02, 0x03, 0x04}
	ApplyStrobe(dst, src, Strobe(Beat{Lower: 1, Upper: 2}), 0)
	want := []byte{0xAA, 0x02, 0x03, 0xAA}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

func TestMask_ZeroesBytesOutsideLanes(t *testing.T) {
	word := []byte{0x11, 0x22, 0x33, 0x44}
	got := Mask(word, Beat{Lower: 2, Upper: 3})
	want := []byte{0, 0, 0x33, 0x44}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Mask = %v, want %v", got, want)
		}
	}
}
