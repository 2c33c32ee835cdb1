// Package vad implements energy-based voice activity detection.
//
// Detection is a pure function over a mono PCM buffer: identical inputs
// produce identical decisions, and nothing here performs I/O or keeps
// state. The turn controller owns all timing decisions (silence windows,
// end-of-utterance); this package only answers "does this buffer contain
// speech, and what do its energy stats look like".
package vad

import (
	"math"
	"time"
)

// Default thresholds, tuned for 8–16 kHz telephony voice.
const (
	// DefaultSilenceThresholdRMS is the normalized RMS floor below which a
	// buffer counts as silence.
	DefaultSilenceThresholdRMS = 0.01

	// DefaultMinSpeechSeconds is the shortest buffer that can count as speech.
	DefaultMinSpeechSeconds = 0.3

	// DefaultMaxSilenceSeconds is how much trailing silence ends an utterance.
	// Consumed by the turn controller, carried here so one Config describes
	// the whole detection setup.
	DefaultMaxSilenceSeconds = 1.5

	// DefaultZCRSpeechMin and DefaultZCRSpeechMax bound the zero-crossing
	// rate of voiced speech. Below the band is hum or DC offset, above it
	// is hiss or static.
	DefaultZCRSpeechMin = 0.02
	DefaultZCRSpeechMax = 0.35
)

// Config holds the detection thresholds. The zero value is usable: zero
// fields fall back to the defaults above.
type Config struct {
	// SilenceThresholdRMS is the normalized RMS floor for speech.
	SilenceThresholdRMS float64 `yaml:"silence_threshold_rms"`

	// MinSpeechSeconds is the minimum buffer duration for a speech decision.
	MinSpeechSeconds float64 `yaml:"min_speech_seconds"`

	// MaxSilenceSeconds is the trailing-silence span that closes an utterance.
	MaxSilenceSeconds float64 `yaml:"max_silence_seconds"`

	// ZCRSpeechMin and ZCRSpeechMax bound the acceptable zero-crossing rate.
	ZCRSpeechMin float64 `yaml:"zcr_speech_min"`
	ZCRSpeechMax float64 `yaml:"zcr_speech_max"`
}

// DefaultConfig returns the stock telephony-voice thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceThresholdRMS: DefaultSilenceThresholdRMS,
		MinSpeechSeconds:    DefaultMinSpeechSeconds,
		MaxSilenceSeconds:   DefaultMaxSilenceSeconds,
		ZCRSpeechMin:        DefaultZCRSpeechMin,
		ZCRSpeechMax:        DefaultZCRSpeechMax,
	}
}

func (c Config) withDefaults() Config {
	if c.SilenceThresholdRMS <= 0 {
		c.SilenceThresholdRMS = DefaultSilenceThresholdRMS
	}
	if c.MinSpeechSeconds <= 0 {
		c.MinSpeechSeconds = DefaultMinSpeechSeconds
	}
	if c.MaxSilenceSeconds <= 0 {
		c.MaxSilenceSeconds = DefaultMaxSilenceSeconds
	}
	if c.ZCRSpeechMin <= 0 {
		c.ZCRSpeechMin = DefaultZCRSpeechMin
	}
	if c.ZCRSpeechMax <= 0 {
		c.ZCRSpeechMax = DefaultZCRSpeechMax
	}
	return c
}

// Decision is the outcome of analyzing one buffer.
type Decision struct {
	// HasSpeech is true when the buffer passes all three gates: RMS at or
	// above the silence threshold, ZCR inside the speech band, and duration
	// at or above the minimum.
	HasSpeech bool

	// RMS is the root-mean-square level of the buffer, normalized to [0,1].
	RMS float64

	// ZeroCrossingRate is sign changes per sample, in [0,1].
	ZeroCrossingRate float64

	// Duration is the buffer length in time at the given sample rate.
	Duration time.Duration

	// Reason names the first gate that failed, or "speech".
	Reason string
}

// Gate failure reasons, in evaluation order.
const (
	ReasonSpeech     = "speech"
	ReasonEmpty      = "empty"
	ReasonLowRMS     = "low rms"
	ReasonZCROutside = "zcr out of band"
	ReasonTooShort   = "too short"
)

// Analyze classifies a buffer of mono 16-bit samples.
func Analyze(samples []int16, sampleRate int, cfg Config) Decision {
	cfg = cfg.withDefaults()

	if len(samples) == 0 || sampleRate <= 0 {
		return Decision{Reason: ReasonEmpty}
	}

	var sumSquares float64
	crossings := 0
	prevNonNeg := samples[0] >= 0
	for i, s := range samples {
		norm := float64(s) / 32768.0
		sumSquares += norm * norm
		nonNeg := s >= 0
		if i > 0 && nonNeg != prevNonNeg {
			crossings++
		}
		prevNonNeg = nonNeg
	}

	n := float64(len(samples))
	d := Decision{
		RMS:              math.Sqrt(sumSquares / n),
		ZeroCrossingRate: float64(crossings) / n,
		Duration:         time.Duration(n / float64(sampleRate) * float64(time.Second)),
	}

	switch {
	case d.RMS < cfg.SilenceThresholdRMS:
		d.Reason = ReasonLowRMS
	case d.ZeroCrossingRate < cfg.ZCRSpeechMin || d.ZeroCrossingRate > cfg.ZCRSpeechMax:
		d.Reason = ReasonZCROutside
	case d.Duration.Seconds() < cfg.MinSpeechSeconds:
		d.Reason = ReasonTooShort
	default:
		d.HasSpeech = true
		d.Reason = ReasonSpeech
	}
	return d
}

// AnalyzeBytes decodes little-endian 16-bit PCM and classifies it.
func AnalyzeBytes(data []byte, sampleRate int, cfg Config) Decision {
	return Analyze(DecodePCM16(data), sampleRate, cfg)
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into samples. A
// trailing odd byte is dropped.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	if n == 0 {
		return nil
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}
