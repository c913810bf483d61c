package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxconv/internal/notice"
	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/shell"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
	"github.com/MrWong99/voxconv/pkg/audio"
)

const (
	// maxMessageBytes caps a single client message. Speak text and audio
	// frames are far below it.
	maxMessageBytes = 1 << 20

	writeTimeout = 10 * time.Second
)

// outbound is one queued frame for the client.
type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// client is one WebSocket connection bound to a shell view.
type client struct {
	conn    *websocket.Conn
	view    *shell.View
	mic     *micSource
	out     chan outbound
	dropped func()
	log     *slog.Logger
}

// handleWS upgrades the request, opens a view for the connection and
// serves the protocol until either side closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("web: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	// The request context ends with the handler; the connection outlives
	// the middleware span, so detach from it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := &client{
		conn: conn,
		out:  make(chan outbound, s.cfg.SendBuffer),
		log:  observe.Logger(r.Context()),
	}
	c.dropped = func() { c.log.Debug("web: client too slow, frame dropped") }
	c.mic = newMicSource(c.sendMessage)
	defer c.mic.close()

	view, err := s.views.Open(c.mic)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	c.view = view
	c.log = c.log.With("view", view.ID())
	defer s.views.Remove(view.ID())

	unsub := view.Subscribe(c.onViewEvent)
	defer unsub()

	snap := view.Snapshot()
	c.sendMessage(message{Type: msgHello, View: &snap})

	go c.writeLoop(ctx, cancel)
	err = c.readLoop(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		c.log.Info("web: connection closed", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// enqueue queues a frame, dropping it if the client is not keeping up.
func (c *client) enqueue(typ websocket.MessageType, data []byte) {
	select {
	case c.out <- outbound{typ: typ, data: data}:
	default:
		c.dropped()
	}
}

func (c *client) sendMessage(m message) {
	c.enqueue(websocket.MessageText, encode(m))
}

func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-c.out:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, o.typ, o.data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			c.mic.push(data)
			continue
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendMessage(message{Type: msgError, Error: "malformed message"})
			continue
		}
		if err := c.dispatch(cmd); err != nil {
			c.reply(cmd.Type, err)
		}
	}
}

// reply reports a failed command. Errors with a user-facing notice are sent
// as notices, everything else as a plain error.
func (c *client) reply(req string, err error) {
	if n, ok := notice.FromError(err); ok {
		c.sendMessage(message{Type: msgNotice, Notice: &n, Request: req})
		return
	}
	c.log.Debug("web: command failed", "type", req, "err", err)
	c.sendMessage(message{Type: msgError, Error: err.Error(), Request: req})
}

func (c *client) dispatch(cmd command) error {
	switch cmd.Type {
	case cmdPing:
		c.sendMessage(message{Type: msgPong})
		return nil
	case cmdTab:
		if err := c.view.SetTab(cmd.Tab); err != nil {
			return err
		}
		snap := c.view.Snapshot()
		c.sendMessage(message{Type: msgView, View: &snap})
		return nil
	case cmdMicGranted:
		if cmd.Format == nil {
			return errors.New("web: mic.granted requires a format")
		}
		c.mic.answer(micAnswer{
			granted:  true,
			format:   audio.Format{SampleRate: cmd.Format.SampleRate, Channels: cmd.Format.Channels},
			encoding: cmd.Encoding,
		})
		return nil
	case cmdMicDenied:
		c.mic.answer(micAnswer{granted: false})
		return nil
	case cmdVoice, cmdRate, cmdPitch, cmdSpeak, cmdCancel:
		p, err := c.view.Synthesis()
		if err != nil {
			return err
		}
		return dispatchSynthesis(p, cmd)
	case cmdStart, cmdPause, cmdResume, cmdStop, cmdClear, cmdLanguage, cmdFormat, cmdStats:
		p, err := c.view.Transcription()
		if err != nil {
			return err
		}
		if cmd.Type == cmdStats {
			st := p.Stats()
			c.sendMessage(message{Type: msgSTTStats, Stats: &st})
			return nil
		}
		return dispatchTranscription(p, cmd)
	}
	return fmt.Errorf("web: unknown message type %q", cmd.Type)
}

func dispatchSynthesis(p *synthesis.Panel, cmd command) error {
	switch cmd.Type {
	case cmdVoice:
		return p.SelectVoice(cmd.VoiceID)
	case cmdRate:
		return p.SetRate(cmd.Value)
	case cmdPitch:
		return p.SetPitch(cmd.Value)
	case cmdSpeak:
		return p.Speak(cmd.Text)
	default:
		return p.Cancel()
	}
}

func dispatchTranscription(p *transcription.Panel, cmd command) error {
	switch cmd.Type {
	case cmdStart:
		return p.Start()
	case cmdPause:
		return p.Pause()
	case cmdResume:
		return p.Resume()
	case cmdStop:
		return p.Stop()
	case cmdClear:
		return p.Clear()
	case cmdLanguage:
		return p.SetLanguage(cmd.Language)
	default:
		return p.Format()
	}
}

// onViewEvent translates view events into client frames. It runs on the
// panel's publishing goroutine and only enqueues.
func (c *client) onViewEvent(ev shell.Event) {
	switch ev.Kind {
	case shell.EventSynthesis:
		switch ev.Synthesis.Kind {
		case synthesis.EventAudio:
			c.enqueue(websocket.MessageBinary, ev.Synthesis.Audio)
		case synthesis.EventSnapshot:
			snap := ev.Synthesis.Snapshot
			c.sendMessage(message{Type: msgTTSState, Synthesis: &snap})
		}
	case shell.EventTranscription:
		switch ev.Transcription.Kind {
		case transcription.EventSnapshot:
			snap := ev.Transcription.Snapshot
			c.sendMessage(message{Type: msgSTTState, Transcription: &snap})
		case transcription.EventMeter:
			m := ev.Transcription.Meter
			c.sendMessage(message{Type: msgSTTMeter, Meter: &m})
		case transcription.EventNotice:
			n := ev.Transcription.Notice
			c.sendMessage(message{Type: msgNotice, Notice: &n})
		}
	}
}
