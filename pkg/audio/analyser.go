package audio

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults match a browser AnalyserNode configured for a level meter.
const (
	DefaultFFTSize     = 512
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// AnalyserConfig configures an Analyser.
type AnalyserConfig struct {
	// FFTSize is the analysis window in samples. Must be a power of two
	// between 32 and 32768.
	FFTSize int

	// Smoothing blends each spectrum with the previous one (0 = none, <1).
	Smoothing float64

	// MinDecibels and MaxDecibels map magnitudes onto the 0–255 byte range.
	MinDecibels float64
	MaxDecibels float64
}

func (c AnalyserConfig) withDefaults() AnalyserConfig {
	if c.FFTSize == 0 {
		c.FFTSize = DefaultFFTSize
	}
	if c.MinDecibels == 0 && c.MaxDecibels == 0 {
		c.MinDecibels, c.MaxDecibels = DefaultMinDecibels, DefaultMaxDecibels
	}
	return c
}

// Analyser keeps the most recent FFTSize mono samples of a capture stream and
// produces a byte-scaled frequency spectrum from them, the way a Web Audio
// AnalyserNode does: Blackman window, magnitude normalised by FFTSize,
// exponential smoothing across calls, then a linear dB-to-byte mapping.
//
// Write and ByteFrequencyData may be called from different goroutines.
type Analyser struct {
	mu       sync.Mutex
	cfg      AnalyserConfig
	fft      *fourier.FFT
	window   []float64
	ring     []float64
	pos      int
	frame    []float64
	smoothed []float64
}

// NewAnalyser validates cfg and returns a ready Analyser.
func NewAnalyser(cfg AnalyserConfig) (*Analyser, error) {
	cfg = cfg.withDefaults()
	n := cfg.FFTSize
	if n < 32 || n > 32768 || n&(n-1) != 0 {
		return nil, fmt.Errorf("audio: fft size %d must be a power of two in [32, 32768]", n)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return nil, fmt.Errorf("audio: smoothing %v must be in [0, 1)", cfg.Smoothing)
	}
	if cfg.MinDecibels >= cfg.MaxDecibels {
		return nil, fmt.Errorf("audio: min decibels %v must be below max decibels %v", cfg.MinDecibels, cfg.MaxDecibels)
	}

	window := make([]float64, n)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(n)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Analyser{
		cfg:      cfg,
		fft:      fourier.NewFFT(n),
		window:   window,
		ring:     make([]float64, n),
		frame:    make([]float64, n),
		smoothed: make([]float64, n/2),
	}, nil
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.cfg.FFTSize / 2 }

// Write appends the samples of f (downmixed to mono) to the analysis window.
func (a *Analyser) Write(f Frame) {
	samples := Float32Mono(f.Data, f.Channels)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// ByteFrequencyData computes the current spectrum into dst (grown to
// FrequencyBinCount if needed) and returns it.
func (a *Analyser) ByteFrequencyData(dst []byte) []byte {
	bins := a.FrequencyBinCount()
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	for i := range n {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	coeffs := a.fft.Coefficients(nil, a.frame)

	tau := a.cfg.Smoothing
	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for k := range bins {
		mag := cmplxAbs(coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(scale * (db - a.cfg.MinDecibels))
		switch {
		case math.IsInf(v, -1) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
	return dst
}

// Reset clears the sample window and the smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// Level is the mean of bins scaled to [0, 1].
func Level(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255
}

// Waveform samples n bars from bins, bar i taken from bin floor(i/n*len(bins)).
func Waveform(bins []byte, n int) []byte {
	out := make([]byte, n)
	if len(bins) == 0 {
		return out
	}
	for i := range n {
		out[i] = bins[i*len(bins)/n]
	}
	return out
}

func cmplxAbs(c complex128) float64 { return math.Hypot(real(c), imag(c)) }
