package coqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxconv/pkg/audio"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

// ---- test helpers ----

// drainAudio reads all chunks from the audio channel until it is closed and
// returns the concatenated PCM data.
func drainAudio(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

func constPCM(n int, b byte) []byte {
	pcm := make([]byte, n)
	for i := range pcm {
		pcm[i] = b
	}
	return pcm
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002")
		if p.serverURL != "http://localhost:8002" {
			t.Errorf("serverURL = %q, want %q", p.serverURL, "http://localhost:8002")
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002/")
		if p.serverURL != "http://localhost:8002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("unknown api mode", func(t *testing.T) {
		if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
			t.Fatal("expected error for unknown api mode")
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002",
			WithLanguage("de"),
			WithTimeout(5*time.Second),
			WithAPIMode(APIModeXTTS),
			WithOutputSampleRate(24000),
		)
		if p.language != "de" {
			t.Errorf("language = %q, want %q", p.language, "de")
		}
		if p.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, 5*time.Second)
		}
		if p.apiMode != APIModeXTTS || p.outputRate != 24000 {
			t.Errorf("apiMode = %q outputRate = %d", p.apiMode, p.outputRate)
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_Validation(t *testing.T) {
	p := mustNew(t, "http://localhost:8002", WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), tts.Utterance{Text: "  "}); err != tts.ErrEmptyText {
		t.Errorf("blank text: err = %v, want ErrEmptyText", err)
	}
	_, err := p.Synthesize(context.Background(), tts.Utterance{Text: "Hi."})
	if err == nil || !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("empty voice in xtts mode: err = %v", err)
	}
}

func TestSynthesize_XTTSOrderedSentences(t *testing.T) {
	var (
		mu       sync.Mutex
		received []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, req)
		mu.Unlock()

		// The first sentence is the slowest; output order must still follow
		// the text.
		fill := byte(0x02)
		if strings.HasPrefix(req.Text, "Hello") {
			time.Sleep(50 * time.Millisecond)
			fill = 0x01
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(constPCM(100, fill), audio.Format{SampleRate: 16000, Channels: 1}))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	audioCh, err := p.Synthesize(context.Background(), tts.Utterance{Text: "Hello world. Goodbye now!", VoiceID: "spk", Rate: 1, Pitch: 1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	pcm := drainAudio(audioCh)

	if len(pcm) != 200 {
		t.Fatalf("total PCM bytes = %d, want 200", len(pcm))
	}
	if pcm[0] != 0x01 || pcm[199] != 0x02 {
		t.Errorf("sentences out of order: first=%02x last=%02x", pcm[0], pcm[199])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("server received %d requests, want 2", len(received))
	}
	for _, req := range received {
		if req.SpeakerWav != "spk" || req.Language != defaultLanguage {
			t.Errorf("request = %+v", req)
		}
	}
}

func TestSynthesize_StandardAPIResamples(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{"text": q.Get("text"), "speaker_id": q.Get("speaker_id"), "language_id": q.Get("language_id")}
		// 100 samples at 22050 Hz.
		_, _ = w.Write(audio.EncodeWAV(constPCM(200, 0), audio.Format{SampleRate: 22050, Channels: 1}))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithOutputSampleRate(44100), WithLanguage("fr"))
	pcm := drainAudio(mustSynthesize(t, p, tts.Utterance{Text: "Bonjour", VoiceID: "p225"}))
	if len(pcm) != 400 {
		t.Errorf("resampled PCM = %d bytes, want 400", len(pcm))
	}
	want := map[string]string{"text": "Bonjour", "speaker_id": "p225", "language_id": "fr"}
	if !reflect.DeepEqual(gotQuery, want) {
		t.Errorf("query = %v, want %v", gotQuery, want)
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(audio.EncodeWAV([]byte{1, 2, 3, 4}, audio.Format{SampleRate: 16000, Channels: 1}))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	audioCh := mustSynthesize(t, p, tts.Utterance{Text: "This sentence should not be synthesised."}, ctx)
	done := make(chan struct{})
	go func() {
		drainAudio(audioCh)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("audio channel did not close within 2 s after context cancellation")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if pcm := drainAudio(mustSynthesize(t, p, tts.Utterance{Text: "A sentence."})); len(pcm) != 0 {
		t.Errorf("expected empty audio on server error, got %d bytes", len(pcm))
	}
}

func mustSynthesize(t *testing.T, p *Provider, u tts.Utterance, ctx ...context.Context) <-chan []byte {
	t.Helper()
	c := context.Background()
	if len(ctx) > 0 {
		c = ctx[0]
	}
	ch, err := p.Synthesize(c, u)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	return ch
}

// ---- sentences ----

func TestFindSentenceBoundary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"period at end", "Hello.", 5},
		{"period space", "Hello. World", 5},
		{"exclamation", "Hello!", 5},
		{"question", "Hello?", 5},
		{"no boundary", "Hello", -1},
		{"abbreviation mid", "Dr. Smith", 2},
		{"decimal", "3.14 is pi", -1},
		{"empty", "", -1},
		{"multiple", "First. Second.", 5},
		{"question mid", "How? Great!", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findSentenceBoundary(tt.input); got != tt.want {
				t.Errorf("findSentenceBoundary(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello world. Are you there?", []string{"Hello world.", "Are you there?"}},
		{"No terminator", []string{"No terminator"}},
		{"Pi is 3.14! Trailing ", []string{"Pi is 3.14!", "Trailing"}},
		{"  . ", []string{"."}},
		{"   ", nil},
	}
	for _, tt := range tests {
		if got := SplitSentences(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitSentences(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"speaker_bob":{},"speaker_alice":{}}`))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	want := []tts.Voice{
		{ID: "speaker_alice", Name: "speaker_alice", Locale: "en", Provider: "coqui"},
		{ID: "speaker_bob", Name: "speaker_bob", Locale: "en", Provider: "coqui"},
	}
	if !reflect.DeepEqual(voices, want) {
		t.Errorf("voices = %+v, want %+v", voices, want)
	}
}

func TestListVoices_Standard(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"multi speaker", `{"model_name":"vctk","speakers":["p226","p225"]}`, []string{"p225", "p226"}},
		{"single speaker", `{"model_name":"ljspeech"}`, []string{"ljspeech"}},
		{"unnamed model", `{}`, []string{"default"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			var ids []string
			for _, v := range voices {
				ids = append(ids, v.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil || !strings.Contains(err.Error(), "coqui:") {
		t.Fatalf("err = %v, want coqui-prefixed error", err)
	}
}

func TestListVoices_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := mustNew(t, srv.URL).ListVoices(ctx); err == nil {
		t.Fatal("expected error on context timeout, got nil")
	}
}
