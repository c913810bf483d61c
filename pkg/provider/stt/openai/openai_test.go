package openai

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/stt/batch"
)

func TestIsoLanguage(t *testing.T) {
	tests := map[string]string{
		"en-US": "en",
		"zh-CN": "zh",
		"pt_BR": "pt",
		"DE":    "de",
		"":      "",
	}
	for in, want := range tests {
		if got := isoLanguage(in); got != want {
			t.Errorf("isoLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q", p.model)
	}
}

func TestSession_UploadsUtteranceAsWAV(t *testing.T) {
	type upload struct {
		language, model, filename string
	}
	uploads := make(chan upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
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
		uploads <- upload{r.FormValue("language"), r.FormValue("model"), hdr.Filename}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"bonjour"}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL), WithSegmenter(batch.Segmenter{SilenceMs: 50}))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{Language: "fr-FR", Continuous: true})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	speech := make([]byte, 3200)
	for i := 0; i < len(speech); i += 2 {
		binary.LittleEndian.PutUint16(speech[i:], uint16(8000))
	}
	_ = h.SendAudio(speech)
	_ = h.SendAudio(make([]byte, 3200))

	select {
	case tr := <-h.Finals():
		if tr.Text != "bonjour" {
			t.Errorf("final = %q", tr.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
	u := <-uploads
	if u.language != "fr" || u.model != DefaultModel || u.filename != "audio.wav" {
		t.Errorf("upload = %+v", u)
	}
}
