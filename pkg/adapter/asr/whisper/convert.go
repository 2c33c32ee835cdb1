package whisper

import "encoding/binary"

// pcmToFloat32 converts 16-bit signed little-endian PCM to the normalised
// [-1, 1] float32 samples whisper.cpp consumes. A trailing odd byte is
// dropped.
func pcmToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
