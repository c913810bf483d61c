// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the test
// can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Format: audio.Format{SampleRate: 16000, Channels: 1}}
//	stream, _ := src.Open(ctx)
//	src.Last().Push(pcm)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxconv/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Every successful Open
// creates a new [Stream].
type Source struct {
	mu sync.Mutex

	// Format is the format reported by opened streams. Defaults to 16 kHz mono.
	Format audio.Format

	// OpenErr, if non-nil, is returned by Open (e.g. audio.ErrPermissionDenied).
	OpenErr error

	// Exclusive makes Open fail with audio.ErrCaptureUnavailable while the
	// last stream is still open, like a device with a single owner.
	Exclusive bool

	// Streams records every stream handed out, in order.
	Streams []*Stream

	// OpenCalls is the number of Open calls, including failed ones.
	OpenCalls int
}

// Open records the call and returns a new Stream or OpenErr.
func (s *Source) Open(_ context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if n := len(s.Streams); s.Exclusive && n > 0 && !s.Streams[n-1].Closed() {
		return nil, audio.ErrCaptureUnavailable
	}
	f := s.Format
	if !f.Valid() {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	st := &Stream{format: f, frames: make(chan audio.Frame, 64)}
	s.Streams = append(s.Streams, st)
	return st, nil
}

// SetOpenErr replaces OpenErr. Thread-safe.
func (s *Source) SetOpenErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenErr = err
}

// Last returns the most recently opened stream, or nil.
func (s *Source) Last() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

// Opens returns the number of Open calls. Thread-safe.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCalls
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests feed it with Push
// and end it with End (device lost) or via Close.
type Stream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.Frame
	closed bool

	// CloseCalls is the number of Close calls.
	CloseCalls int
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Push delivers pcm as one frame. It is a no-op once the stream has ended.
func (s *Stream) Push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- audio.Frame{Data: pcm, SampleRate: s.format.SampleRate, Channels: s.format.Channels}
}

// End closes the frame channel as if the device went away.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.End()
	return nil
}

// Closed reports whether Close or End was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*Stream)(nil)
)
