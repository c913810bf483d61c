package piper

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/MrWong99/voxconv/pkg/provider/tts"
)

func writeModel(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "en_US-lessac-medium.onnx")
	if err := os.WriteFile(model+".json", []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return model
}

func TestNew_ReadsModelConfig(t *testing.T) {
	model := writeModel(t, `{"audio":{"sample_rate":22050},"language":{"code":"en_US"},"dataset":"lessac"}`)
	p, err := New(model)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, _ := p.ListVoices(context.Background())
	want := []tts.Voice{{Name: "lessac", Locale: "en-US", Provider: "piper"}}
	if !reflect.DeepEqual(voices, want) {
		t.Errorf("voices = %+v, want %+v", voices, want)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.onnx")); err == nil {
		t.Error("expected error for missing config")
	}
	if _, err := New(writeModel(t, `{"audio":{}}`)); err == nil {
		t.Error("expected error for missing sample rate")
	}
}

func TestArgs(t *testing.T) {
	model := writeModel(t, `{"audio":{"sample_rate":22050},"speaker_id_map":{"p225":0,"p226":1}}`)
	p, err := New(model)
	if err != nil {
		t.Fatal(err)
	}

	args, err := p.Args(tts.Utterance{Text: "hi", VoiceID: "p226", Rate: 2, Pitch: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--model", model, "--output-raw", "--length_scale", "0.500", "--speaker", "1"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}

	if _, err := p.Args(tts.Utterance{Text: "hi", VoiceID: "nobody"}); err == nil {
		t.Error("expected error for unknown speaker")
	}

	voices, _ := p.ListVoices(context.Background())
	if len(voices) != 2 || voices[0].ID != "p225" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestSynthesize_MissingBinary(t *testing.T) {
	model := writeModel(t, `{"audio":{"sample_rate":22050}}`)
	p, err := New(model, WithBinary(filepath.Join(t.TempDir(), "no-such-piper")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Utterance{Text: "hello", Rate: 1, Pitch: 1}); err == nil {
		t.Error("expected start error for missing binary")
	}
	if _, err := p.Synthesize(context.Background(), tts.Utterance{Text: " "}); err != tts.ErrEmptyText {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}
