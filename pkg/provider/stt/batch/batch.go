// Package batch turns a request/response transcription engine into a streaming
// stt.SessionHandle.
//
// Incoming PCM is buffered and an energy-based silence detector cuts it into
// utterances. Each completed utterance is handed to a Transcriber. Because
// the engine only sees whole utterances, a session cannot produce true
// low-latency partials; when interim results are requested it emits a partial
// carrying the same text immediately before each final.
//
// The whisper.cpp server, the in-process whisper.cpp binding and the OpenAI
// transcription API all plug in here.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/stt"
)

const (
	// DefaultRMSThreshold is the energy (in 16-bit sample units) below which a
	// chunk counts as silence. 300 out of 32767 is near-silence.
	DefaultRMSThreshold = 300.0

	DefaultSilenceMs   = 500
	DefaultMaxBufferMs = 10_000

	// finalFlushTimeout bounds the inference of audio still buffered at Close.
	finalFlushTimeout = 30 * time.Second
)

// Transcriber runs inference on one complete utterance.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error)

// Transcribe calls fn.
func (fn TranscriberFunc) Transcribe(ctx context.Context, pcm []byte, f audio.Format, language string) (string, error) {
	return fn(ctx, pcm, f, language)
}

// Segmenter holds the utterance detection thresholds.
type Segmenter struct {
	// RMSThreshold is the silence energy threshold.
	RMSThreshold float64
	// SilenceMs of consecutive silence after speech ends an utterance.
	SilenceMs int
	// MaxBufferMs forces a flush during long continuous speech.
	MaxBufferMs int
}

// DefaultSegmenter returns the default thresholds.
func DefaultSegmenter() Segmenter {
	return Segmenter{
		RMSThreshold: DefaultRMSThreshold,
		SilenceMs:    DefaultSilenceMs,
		MaxBufferMs:  DefaultMaxBufferMs,
	}
}

// Start opens a session that feeds utterances to t. cfg.SampleRate and
// cfg.Channels describe the PCM passed to SendAudio; zero values mean 16 kHz
// mono. The session ends when ctx is cancelled, Close is called, or, for a
// non-continuous cfg, after the first final.
func Start(ctx context.Context, t Transcriber, cfg stt.StreamConfig, seg Segmenter) stt.SessionHandle {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if seg.RMSThreshold <= 0 {
		seg.RMSThreshold = DefaultRMSThreshold
	}
	if seg.SilenceMs <= 0 {
		seg.SilenceMs = DefaultSilenceMs
	}
	s := &session{
		transcriber: t,
		cfg:         cfg,
		format:      f,
		seg:         seg,
		audioCh:     make(chan []byte, 256),
		partials:    make(chan stt.Transcript, 64),
		finals:      make(chan stt.Transcript, 64),
		done:        make(chan struct{}),
		ended:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// session implements stt.SessionHandle. All buffering state lives in the
// processLoop goroutine.
type session struct {
	transcriber Transcriber
	cfg         stt.StreamConfig
	format      audio.Format
	seg         Segmenter

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu  sync.Mutex
	err error

	done  chan struct{} // closed by Close
	ended chan struct{} // closed when processLoop exits
	once  sync.Once
	wg    sync.WaitGroup
}

// SendAudio queues a PCM chunk for silence analysis and buffering.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes buffered speech for a last transcription, closes the result
// channels and waits for the worker to exit.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.ended)
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
	)
	silenceLimit := time.Duration(s.seg.SilenceMs) * time.Millisecond
	maxBufferBytes := 0
	if s.seg.MaxBufferMs > 0 {
		maxBufferBytes = s.seg.MaxBufferMs * s.format.SampleRate * s.format.Channels * audio.BytesPerSample / 1000
	}

	// flush transcribes the buffered utterance. It reports false when the
	// session must end (inference failure or a non-continuous session that
	// produced its final).
	flush := func(flushCtx context.Context) bool {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silence = nil, false, 0
		if len(pcm) == 0 || !speech {
			return true
		}

		text, err := s.transcriber.Transcribe(flushCtx, pcm, s.format, s.cfg.Language)
		if err != nil {
			if flushCtx.Err() == nil {
				s.fail(fmt.Errorf("batch: transcribe: %w", err))
				slog.Warn("batch stt: transcription failed", "err", err)
			}
			return false
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return true
		}

		// Channels are buffered; skip rather than deadlock if the consumer stalled.
		if s.cfg.InterimResults {
			select {
			case s.partials <- stt.Transcript{Text: text}:
			default:
			}
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
		return s.cfg.Continuous
	}

	// finalFlush uses a fresh context since ctx may already be cancelled.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-s.done:
			finalFlush()
			return
		case chunk := <-s.audioCh:
			if audio.RMS(chunk) < s.seg.RMSThreshold {
				// Leading silence is discarded.
				if !hadSpeech {
					continue
				}
				silence += s.format.Duration(len(chunk))
				buffer = append(buffer, chunk...)
				if silence >= silenceLimit && !flush(ctx) {
					return
				}
				continue
			}
			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes && !flush(ctx) {
				return
			}
		}
	}
}
