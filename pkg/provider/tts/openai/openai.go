// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as raw PCM (24 kHz, 16-bit, mono) and streamed to the
// caller as the HTTP body arrives, resampled to the configured output rate.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = "gpt-4o-mini-tts"

	// pcmRate is the fixed sample rate of OpenAI's "pcm" response format.
	pcmRate = 24000

	readChunk = 4800 // 100 ms at 24 kHz mono
)

// Voices is the fixed OpenAI voice catalogue.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	outputRate int
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	outputRate   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithOutputSampleRate resamples the 24 kHz PCM to rate. Zero keeps 24 kHz.
func WithOutputSampleRate(rate int) Option {
	return func(c *config) {
		c.outputRate = rate
	}
}

// New constructs a new OpenAI TTS Provider. If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	rate := cfg.outputRate
	if rate <= 0 {
		rate = pcmRate
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, outputRate: rate}, nil
}

// Synthesize implements tts.Provider. Rate maps onto the API's speed
// parameter; pitch is not supported by the API and is ignored.
func (p *Provider) Synthesize(ctx context.Context, u tts.Utterance) (<-chan []byte, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	voice := u.VoiceID
	if voice == "" {
		voice = Voices[0]
	}

	params := oai.AudioSpeechNewParams{
		Input:          u.Text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if u.Rate > 0 {
		params.Speed = param.NewOpt(u.Rate)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer resp.Body.Close()
		p.pump(ctx, resp.Body, audioCh)
	}()
	return audioCh, nil
}

// pump copies sample-aligned PCM chunks from body to out.
func (p *Provider) pump(ctx context.Context, body io.Reader, out chan<- []byte) {
	buf := make([]byte, readChunk*audio.BytesPerSample)
	var carry []byte
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			aligned := len(data) - len(data)%audio.BytesPerSample
			carry = append([]byte(nil), data[aligned:]...)
			if aligned > 0 {
				pcm := audio.ResampleMono16(append([]byte(nil), data[:aligned]...), pcmRate, p.outputRate)
				select {
				case out <- pcm:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// ListVoices returns the built-in OpenAI voices.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(Voices))
	for _, v := range Voices {
		voices = append(voices, tts.Voice{
			ID:       v,
			Name:     strings.ToUpper(v[:1]) + v[1:],
			Provider: "openai",
		})
	}
	return voices, nil
}
