// Package lane implements the byte-lane and write-strobe arithmetic used by
// the master bus-functional model to compute per-beat masks, and by the
// slave bus-functional model to apply a strobe against its memory.
package lane

import "github.com/esa-tu-darmstadt/tapasco/internal/mathx"

// Beat describes the active byte lanes of a single transfer beat within a
// bus-width-wide data word: bytes at positions [Lower, Upper] are the ones
// actually addressed; all others are outside the transfer.
type Beat struct {
	Lower, Upper int
}

// AlignDown rounds addr down to a multiple of size (size must be a power
// of two).
func AlignDown(addr uint64, size int) uint64 {
	return addr &^ (uint64(size) - 1)
}

// Lane0 computes the active lane of the first beat of a burst: base
// address addr, bus width w, and bytes-per-beat bytesPerBeat (both in
// bytes).
func Lane0(addr uint64, w, bytesPerBeat int) Beat {
	aligned := AlignDown(addr, bytesPerBeat)
	lower := int(addr % uint64(w))
	upper := int(aligned) + bytesPerBeat - 1 - int(addr-uint64(lower))
	return Beat{Lower: lower, Upper: upper}
}

// BeatN computes the active lane of beat n (the beat's zero-based index in
// the burst, so n >= 1 and n == 1 is the second beat) of an INCR burst
// whose first beat started at aligned address alignedAddr.
func BeatN(alignedAddr uint64, n, w, bytesPerBeat int) Beat {
	a := alignedAddr + uint64(n)*uint64(bytesPerBeat)
	lower := int(a % uint64(w))
	upper := lower + bytesPerBeat - 1
	return Beat{Lower: mathx.Clamp(lower, 0, w-1), Upper: mathx.Clamp(upper, 0, w-1)}
}

// Strobe returns a write-strobe bitmask (one bit per byte lane) with bits
// [b.Lower..b.Upper] set.
func Strobe(b Beat) uint64 {
	var mask uint64
	for k := b.Lower; k <= b.Upper; k++ {
		mask |= 1 << uint(k)
	}
	return mask
}

// Mask zeroes every byte of word outside the active lanes of b. word must
// be exactly w bytes, little-endian lane 0 first.
func Mask(word []byte, b Beat) []byte {
	out := make([]byte, len(word))
	for k := b.Lower; k <= b.Upper && k < len(word); k++ {
		out[k] = word[k]
	}
	return out
}

// ApplyStrobe writes src into dst at the byte lanes selected by strb,
// where strobeOffset is addr mod W (the slave BFM's lane-0 offset for the
// beat being written).
func ApplyStrobe(dst []byte, src []byte, strb uint64, strobeOffset int) {
	for k := 0; k < len(src); k++ {
		if strb&(1<<uint(k)) == 0 {
			continue
		}
		srcIdx := strobeOffset + k
		if srcIdx < 0 || srcIdx >= len(src) {
			continue
		}
		if k >= len(dst) {
			continue
		}
		dst[k] = src[srcIdx]
	}
}
