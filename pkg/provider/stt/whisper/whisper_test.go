package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/stt/batch"
	"github.com/MrWong99/voxconv/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type inferenceRequest struct {
	language string
	model    string
	wavBytes int
}

// newMockServer answers POST /inference with responseText and records the
// form fields of every request.
func newMockServer(t *testing.T, responseText string) (*httptest.Server, func() []inferenceRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []inferenceRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		reqs = append(reqs, inferenceRequest{
			language: r.FormValue("language"),
			model:    r.FormValue("model"),
			wavBytes: int(hdr.Size),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []inferenceRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]inferenceRequest(nil), reqs...)
	}
}

// makeSpeechPCM generates a 440 Hz sine well above the silence threshold.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

var fastSegmenter = batch.Segmenter{SilenceMs: 100}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestStartStream_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestUtteranceIsPostedAsWAV(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, " Hello darkness my old friend")
	p, _ := whisper.New(srv.URL+"/", whisper.WithModel("base.en"), whisper.WithSegmenter(fastSegmenter))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000, Channels: 1, Language: "en-US", Continuous: true, InterimResults: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))

	select {
	case tr := <-h.Finals():
		if tr.Text != "Hello darkness my old friend" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].language != "en" {
		t.Errorf("language = %q, want region stripped", reqs[0].language)
	}
	if reqs[0].model != "base.en" {
		t.Errorf("model = %q", reqs[0].model)
	}
	if want := 44 + 2*3200; reqs[0].wavBytes != want {
		t.Errorf("wav size = %d, want %d", reqs[0].wavBytes, want)
	}
}

func TestServerErrorEndsSession(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			wantMsg: "HTTP 500: model not loaded",
		},
		{
			name: "error field",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "failed to read WAV"})
			},
			wantMsg: "failed to read WAV",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p, _ := whisper.New(srv.URL, whisper.WithSegmenter(fastSegmenter))
			h, _ := p.StartStream(context.Background(), stt.StreamConfig{Continuous: true})
			defer h.Close()

			_ = h.SendAudio(makeSpeechPCM(1600))
			_ = h.SendAudio(makeSilencePCM(1600))

			select {
			case tr, open := <-h.Finals():
				if open {
					t.Fatalf("unexpected final %q", tr.Text)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("session did not end after server error")
			}
			if err := h.Err(); err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Err() = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEmptyResponseProducesNoTranscript(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, "")
	p, _ := whisper.New(srv.URL, whisper.WithSegmenter(fastSegmenter))
	h, _ := p.StartStream(context.Background(), stt.StreamConfig{Continuous: true})

	_ = h.SendAudio(makeSpeechPCM(1600))
	_ = h.SendAudio(makeSilencePCM(1600))
	deadline := time.Now().Add(5 * time.Second)
	for len(requests()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	h.Close()

	if tr, ok := <-h.Finals(); ok {
		t.Errorf("unexpected final %+v", tr)
	}
}
