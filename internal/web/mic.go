package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxconv/pkg/audio"
)

// micFrameBuffer is the number of captured frames queued for the panel.
// Frames beyond it are dropped.
const micFrameBuffer = 64

// micAnswer is the client's reply to a mic.request.
type micAnswer struct {
	granted  bool
	format   audio.Format
	encoding string
}

// micSource is an [audio.Source] whose microphone lives in the browser. Open
// asks the client for access and waits for mic.granted or mic.denied; audio
// then arrives as binary WebSocket frames.
type micSource struct {
	send func(message)

	mu      sync.Mutex
	pending chan micAnswer
	stream  *micStream
	closed  bool
	done    chan struct{}
}

func newMicSource(send func(message)) *micSource {
	return &micSource{send: send, done: make(chan struct{})}
}

// Open implements [audio.Source].
func (m *micSource) Open(ctx context.Context) (audio.Stream, error) {
	m.mu.Lock()
	if m.closed || m.stream != nil || m.pending != nil {
		m.mu.Unlock()
		return nil, audio.ErrCaptureUnavailable
	}
	ch := make(chan micAnswer, 1)
	m.pending = ch
	m.mu.Unlock()

	m.send(message{Type: msgMicRequest})

	var ans micAnswer
	select {
	case ans = <-ch:
	case <-ctx.Done():
		m.clearPending(ch)
		return nil, ctx.Err()
	case <-m.done:
		return nil, audio.ErrCaptureUnavailable
	}
	if !ans.granted {
		return nil, audio.ErrPermissionDenied
	}

	s, err := newMicStream(m, ans.format, ans.encoding)
	if err != nil {
		m.send(message{Type: msgMicRelease})
		return nil, fmt.Errorf("%w: %v", audio.ErrCaptureUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		s.end()
		return nil, audio.ErrCaptureUnavailable
	}
	m.stream = s
	return s, nil
}

func (m *micSource) clearPending(ch chan micAnswer) {
	m.mu.Lock()
	if m.pending == ch {
		m.pending = nil
	}
	m.mu.Unlock()
}

// answer delivers the client's reply to the pending Open. Replies without a
// pending request are ignored.
func (m *micSource) answer(a micAnswer) {
	m.mu.Lock()
	ch := m.pending
	m.pending = nil
	m.mu.Unlock()
	if ch == nil {
		slog.Debug("web: unsolicited microphone answer ignored")
		return
	}
	ch <- a
}

// push forwards one binary frame to the open stream.
func (m *micSource) push(data []byte) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		s.push(data)
	}
}

// release detaches s after it was closed by its owner.
func (m *micSource) release(s *micStream) {
	m.mu.Lock()
	if m.stream == s {
		m.stream = nil
	}
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.send(message{Type: msgMicRelease})
	}
}

// close ends any capture because the client went away.
func (m *micSource) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	s := m.stream
	m.stream = nil
	m.mu.Unlock()
	if s != nil {
		s.end()
	}
}

// micStream is one granted capture.
type micStream struct {
	src    *micSource
	format audio.Format
	opus   *audio.OpusDecoder

	mu     sync.Mutex
	frames chan audio.Frame
	ended  bool
	offset int // PCM bytes delivered so far
}

func newMicStream(src *micSource, f audio.Format, encoding string) (*micStream, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid capture format %s", f)
	}
	s := &micStream{src: src, format: f, frames: make(chan audio.Frame, micFrameBuffer)}
	switch encoding {
	case "", encodingPCM16:
	case encodingOpus:
		dec, err := audio.NewOpusDecoder(f)
		if err != nil {
			return nil, err
		}
		s.opus = dec
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	return s, nil
}

func (s *micStream) Format() audio.Format { return s.format }

func (s *micStream) Frames() <-chan audio.Frame { return s.frames }

// Close releases the microphone and tells the client to stop capturing.
func (s *micStream) Close() error {
	if s.end() {
		s.src.release(s)
	}
	return nil
}

// end closes the frame channel. It reports whether this call ended the stream.
func (s *micStream) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	close(s.frames)
	return true
}

func (s *micStream) push(data []byte) {
	pcm := data
	if s.opus != nil {
		var err error
		if pcm, err = s.opus.Decode(data); err != nil {
			slog.Debug("web: dropping undecodable opus packet", "err", err)
			return
		}
	}
	if len(pcm)%(audio.BytesPerSample*s.format.Channels) != 0 {
		slog.Debug("web: dropping misaligned pcm frame", "bytes", len(pcm))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	fr := audio.Frame{
		Data:       pcm,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  s.format.Duration(s.offset),
	}
	select {
	case s.frames <- fr:
		s.offset += len(pcm)
	default:
		slog.Debug("web: microphone frame dropped, panel is behind")
	}
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*micSource)(nil)
	_ audio.Stream = (*micStream)(nil)
)
