package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Media streams negotiate Opus at 20 ms frame size; browser clients send
// 48 kHz mono by default.
const opusFrameMs = 20

// OpusDecoder wraps a gopus Opus decoder for a single inbound media stream.
// Each stream gets its own decoder to maintain decoder state correctly
// across consecutive packets. Not safe for concurrent use.
type OpusDecoder struct {
	dec        *gopus.Decoder
	frameSize  int
	sampleRate int
	channels   int
}

// NewOpusDecoder creates a decoder for the negotiated stream format.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		frameSize:  sampleRate * opusFrameMs / 1000,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Decode decodes one Opus packet into interleaved little-endian 16-bit PCM.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// OpusEncoder wraps a gopus Opus encoder for an outbound media stream.
// Not safe for concurrent use.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int
}

// NewOpusEncoder creates an encoder for the negotiated stream format.
func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:       enc,
		frameSize: sampleRate * opusFrameMs / 1000,
	}, nil
}

// Encode encodes one frame of interleaved little-endian 16-bit PCM into an
// Opus packet. The input must hold exactly one 20 ms frame.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(bytesToInt16s(pcm), e.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}

// int16sToBytes packs int16 samples into the wire layout.
func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

// bytesToInt16s unpacks wire-layout PCM into the sample slice gopus expects.
func bytesToInt16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = sampleAt(pcm, i)
	}
	return out
}
