package whisper_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/voxconv/pkg/provider/stt"
	"github.com/MrWong99/voxconv/pkg/provider/stt/batch"
	"github.com/MrWong99/voxconv/pkg/provider/stt/whisper"
)

// testModelPath returns the whisper model used by integration tests, taken
// from WHISPER_MODEL_PATH. The test is skipped when it is unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeStartStream_CancelledContext_ReturnsError(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestNativeSilenceAloneDoesNotTriggerTranscript(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeSegmenter(batch.Segmenter{SilenceMs: 50}))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Continuous: true})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(makeSilencePCM(16000))
	time.Sleep(150 * time.Millisecond)
	h.Close()

	if tr, ok := <-h.Finals(); ok {
		t.Errorf("unexpected transcript %q for silence", tr.Text)
	}
}

func TestNativeSpeechAt48kHzIsTranscribed(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeSegmenter(batch.Segmenter{SilenceMs: 100}))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 48000, Channels: 1, Continuous: true})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(makeSpeechPCM(48000))
	h.Close()
	// A pure tone may legitimately transcribe to nothing; only the session
	// lifecycle is asserted here.
	for range h.Finals() {
	}
	if h.Err() != nil {
		t.Errorf("Err = %v", h.Err())
	}
}
