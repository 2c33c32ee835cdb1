package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/audio"
)

// pcmBytes packs int16 samples as little-endian PCM.
func pcmBytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// pcmSamples unpacks little-endian PCM into int16 samples.
func pcmSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func assertSamples(t *testing.T, got []byte, want ...int16) {
	t.Helper()
	gs := pcmSamples(got)
	if len(gs) != len(want) {
		t.Fatalf("got %d samples, want %d", len(gs), len(want))
	}
	for i := range want {
		if gs[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, gs[i], want[i])
		}
	}
}

func TestMonoToStereo_DuplicatesSamples(t *testing.T) {
	stereo := audio.MonoToStereo(pcmBytes(1200, -350, 7))
	assertSamples(t, stereo, 1200, 1200, -350, -350, 7, 7)
}

func TestMonoToStereo_DiscardsTrailingByte(t *testing.T) {
	// 5 bytes = 2 complete samples + 1 stray byte.
	pcm := append(pcmBytes(1200, -350), 0xFF)
	stereo := audio.MonoToStereo(pcm)
	if len(stereo) != 8 {
		t.Fatalf("got %d bytes, want 8 for 2 complete mono samples", len(stereo))
	}
	assertSamples(t, stereo, 1200, 1200, -350, -350)
}

func TestStereoToMono_AveragesChannels(t *testing.T) {
	tests := []struct {
		name string
		l, r int16
		want int16
	}{
		{"positive pair", 400, 600, 500},
		{"negative pair", -400, -600, -500},
		{"clamps at max", 32767, 32767, 32767},
		{"opposite signs cancel", 2000, -2000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mono := audio.StereoToMono(pcmBytes(tt.l, tt.r))
			assertSamples(t, mono, tt.want)
		})
	}
}

func TestResampleMono16_SameRatePassthrough(t *testing.T) {
	pcm := pcmBytes(900, -900, 450)
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("got %d bytes, want input unchanged (%d)", len(out), len(pcm))
	}
}

func TestResampleMono16_TelephonyUpsample(t *testing.T) {
	// Carrier streams arrive at 8 kHz; recognition wants 16 kHz (2x).
	out := audio.ResampleMono16(pcmBytes(1000, 2000), 8000, 16000)
	got := pcmSamples(out)
	if len(got) != 4 {
		t.Fatalf("got %d samples, want 4", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000 (source sample 0)", got[0])
	}
	if last := got[3]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want near 2000", last)
	}
}

func TestResampleMono16_SynthesisDownsample(t *testing.T) {
	// Synthesized 24 kHz output downsampled to the 8 kHz carrier rate (1/3x).
	out := audio.ResampleMono16(pcmBytes(90, 180, 270, 360, 450, 540), 24000, 8000)
	if got := len(pcmSamples(out)); got != 2 {
		t.Fatalf("got %d samples, want 2", got)
	}
}

func TestResampleMono16_RejectsBogusRates(t *testing.T) {
	pcm := pcmBytes(900, -900)
	for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-8000, 16000}} {
		out := audio.ResampleMono16(pcm, rates[0], rates[1])
		if len(out) != len(pcm) {
			t.Errorf("rates %v: got len %d, want input unchanged", rates, len(out))
		}
	}
}
