package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// opusMaxFrameMs is the longest frame an Opus packet can carry.
const opusMaxFrameMs = 120

// OpusDecoder turns raw Opus packets (one per call, as produced by a WebCodecs
// AudioEncoder on the client) into PCM. Decoder state carries across packets,
// so use one decoder per capture stream.
type OpusDecoder struct {
	dec    *gopus.Decoder
	format Format
}

// NewOpusDecoder creates a decoder producing PCM in f. Opus supports 8, 12,
// 16, 24 and 48 kHz with one or two channels.
func NewOpusDecoder(f Format) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder for %s: %w", f, err)
	}
	return &OpusDecoder{dec: dec, format: f}, nil
}

// Format returns the PCM format produced by Decode.
func (d *OpusDecoder) Format() Format { return d.format }

// Decode decodes a single Opus packet into interleaved little-endian PCM.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	maxSamples := d.format.SampleRate * opusMaxFrameMs / 1000
	pcm, err := d.dec.Decode(packet, maxSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	b := make([]byte, len(pcm)*BytesPerSample)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b, nil
}
