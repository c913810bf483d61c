// Package piper provides a TTS provider that runs the Piper command-line
// synthesiser locally. Each utterance starts one piper process that reads
// the text on stdin and writes raw 16-bit mono PCM to stdout.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBinary = "piper"
	readChunk     = 4096
)

// modelConfig is the subset of a Piper voice's .onnx.json we need.
type modelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Dataset      string         `json:"dataset"`
	SpeakerIDMap map[string]int `json:"speaker_id_map"`
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBinary sets the path of the piper executable. Defaults to "piper" on PATH.
func WithBinary(path string) Option {
	return func(p *Provider) {
		p.binary = path
	}
}

// WithOutputSampleRate resamples the model output to rate. Zero keeps the
// model's own rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider on top of the piper CLI.
type Provider struct {
	binary     string
	model      string
	outputRate int
	cfg        modelConfig
}

// New loads the model's JSON config (model + ".json") and returns a provider.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("piper: model path must not be empty")
	}
	p := &Provider{binary: defaultBinary, model: model}
	for _, o := range opts {
		o(p)
	}
	raw, err := os.ReadFile(model + ".json")
	if err != nil {
		return nil, fmt.Errorf("piper: read model config: %w", err)
	}
	if err := json.Unmarshal(raw, &p.cfg); err != nil {
		return nil, fmt.Errorf("piper: parse model config: %w", err)
	}
	if p.cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("piper: model config has no sample rate")
	}
	return p, nil
}

// Args returns the command-line arguments used to synthesise u. Rate is
// mapped onto piper's length scale; pitch is not supported.
func (p *Provider) Args(u tts.Utterance) ([]string, error) {
	args := []string{"--model", p.model, "--output-raw"}
	if u.Rate > 0 && u.Rate != 1 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/u.Rate, 'f', 3, 64))
	}
	if u.VoiceID != "" && len(p.cfg.SpeakerIDMap) > 0 {
		id, ok := p.cfg.SpeakerIDMap[u.VoiceID]
		if !ok {
			return nil, fmt.Errorf("piper: unknown speaker %q", u.VoiceID)
		}
		args = append(args, "--speaker", strconv.Itoa(id))
	}
	return args, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, u tts.Utterance) (<-chan []byte, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	args, err := p.Args(u)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(u.Text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piper: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("piper: start: %w", err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		p.pump(ctx, stdout, out)
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("piper: process failed", "err", err, "stderr", strings.TrimSpace(stderr.String()))
		}
	}()
	return out, nil
}

func (p *Provider) pump(ctx context.Context, r io.Reader, out chan<- []byte) {
	buf := make([]byte, readChunk)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			aligned := len(data) - len(data)%audio.BytesPerSample
			carry = append([]byte(nil), data[aligned:]...)
			if aligned > 0 {
				pcm := append([]byte(nil), data[:aligned]...)
				if p.outputRate > 0 {
					pcm = audio.ResampleMono16(pcm, p.cfg.Audio.SampleRate, p.outputRate)
				}
				select {
				case out <- pcm:
				case <-ctx.Done():
					_, _ = io.Copy(io.Discard, r)
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// ListVoices returns one voice per speaker of a multi-speaker model, or a
// single voice named after the model file.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	locale := strings.ReplaceAll(p.cfg.Language.Code, "_", "-")
	if len(p.cfg.SpeakerIDMap) == 0 {
		name := p.cfg.Dataset
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(p.model), ".onnx")
		}
		return []tts.Voice{{ID: "", Name: name, Locale: locale, Provider: "piper"}}, nil
	}
	names := make([]string, 0, len(p.cfg.SpeakerIDMap))
	for n := range p.cfg.SpeakerIDMap {
		names = append(names, n)
	}
	sort.Strings(names)
	voices := make([]tts.Voice, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.Voice{ID: n, Name: n, Locale: locale, Provider: "piper"})
	}
	return voices, nil
}
