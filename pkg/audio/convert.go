package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// FormatConverter adapts frames to a fixed target format, usually the mono
// 16 kHz stream a recogniser expects. It is per-stream state and must not be
// shared between goroutines.
//
// Multi-channel input is downmixed before resampling so each sample is
// interpolated only once; a mono source is fanned out to the target channel
// count after resampling.
type FormatConverter struct {
	Target Format

	once    sync.Once
	corrupt sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as-is. Frames whose length is not a whole number of
// sample frames are dropped and an empty frame is returned.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if frame.Channels <= 0 || len(frame.Data)%(frame.Channels*BytesPerSample) != 0 {
		c.corrupt.Do(func() {
			slog.Warn("audio: misaligned pcm frame dropped",
				"bytes", len(frame.Data),
				"format", frame.Format().String(),
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.Format() == c.Target {
		return frame
	}

	c.once.Do(func() {
		slog.Debug("audio: converting stream",
			"from", frame.Format().String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data
	if frame.Channels != 1 {
		pcm = Downmix(pcm, frame.Channels)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
	if c.Target.Channels > 1 {
		pcm = Upmix(pcm, c.Target.Channels)
	}

	return Frame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix averages interleaved channels into mono. A trailing partial sample
// frame is ignored.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * BytesPerSample
	n := len(pcm) / stride
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		var sum int32
		base := i * stride
		for ch := range channels {
			off := base + ch*BytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Upmix copies each mono sample into every one of channels outputs.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*channels*BytesPerSample)
	for i := range n {
		lo, hi := pcm[i*2], pcm[i*2+1]
		base := i * channels * BytesPerSample
		for ch := range channels {
			out[base+ch*2] = lo
			out[base+ch*2+1] = hi
		}
	}
	return out
}

// ResampleMono16 converts mono PCM16LE from srcRate to dstRate by linear
// interpolation. Matching or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	srcN := len(pcm) / BytesPerSample
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	sample := func(i int) float64 {
		if i >= srcN {
			i = srcN - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
	}

	out := make([]byte, dstN*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}
