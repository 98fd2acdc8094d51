package device

import (
	"encoding/binary"
	"math"
)

// f32FromBytes reads little-endian float32 samples as produced by a
// malgo.FormatF32 device.
func f32FromBytes(b []byte, n int) []float32 {
	if limit := len(b) / 4; n > limit {
		n = limit
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func f32ToBytes(dst []byte, samples []float32) {
	for i, s := range samples {
		if (i+1)*4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
