// Package resample converts little-endian PCM16 mono audio between
// 8 kHz and 24 kHz by simple linear interpolation / averaging. It does
// not apply anti-alias filtering; this matches telephony-grade source
// behavior and is acceptable for speech content produced by a remote
// conversational service.
package resample

import "encoding/binary"

// Upsample8to24 converts 8 kHz PCM16 to 24 kHz PCM16 by emitting three
// interpolated samples per input sample. A trailing odd byte is
// ignored. Output length is exactly 3 × (len(pcm)/2) × 2 bytes.
func Upsample8to24(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}

	out := make([]byte, n*3*2)
	pos := 0
	write := func(v int32) {
		binary.LittleEndian.PutUint16(out[pos:], uint16(int16(v)))
		pos += 2
	}

	for i := 0; i < n; i++ {
		s0 := int32(samples[i])
		var s1 int32
		if i+1 < n {
			s1 = int32(samples[i+1])
		} else {
			s1 = s0
		}
		write(s0)
		write((2*s0 + s1) / 3)
		write((s0 + 2*s1) / 3)
	}
	return out
}

// Downsample24to8 converts 24 kHz PCM16 to 8 kHz PCM16 by averaging
// each group of three consecutive samples. Trailing samples that do
// not complete a group of three are discarded, as is a trailing odd
// byte. Output length is exactly ⌊(len(pcm)/2)/3⌋ × 2 bytes.
func Downsample24to8(pcm []byte) []byte {
	n := len(pcm) / 2
	groups := n / 3
	if groups == 0 {
		return nil
	}
	out := make([]byte, groups*2)
	for g := 0; g < groups; g++ {
		base := g * 3
		var sum int32
		for j := 0; j < 3; j++ {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[2*(base+j):])))
		}
		avg := sum / 3
		binary.LittleEndian.PutUint16(out[2*g:], uint16(int16(avg)))
	}
	return out
}
