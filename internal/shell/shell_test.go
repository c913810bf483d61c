package shell

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxconv/internal/observe"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
	audiomock "github.com/MrWong99/voxconv/pkg/audio/mock"
	sttmock "github.com/MrWong99/voxconv/pkg/provider/stt/mock"
	"github.com/MrWong99/voxconv/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxconv/pkg/provider/tts/mock"
)

type fixture struct {
	mgr    *Manager
	tts    *ttsmock.Provider
	stt    *sttmock.Provider
	source *audiomock.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{tts: &ttsmock.Provider{}, stt: &sttmock.Provider{}, source: &audiomock.Source{}}
	f.tts.SetVoices([]tts.Voice{{ID: "v1", Name: "Alice", Locale: "en-US"}})
	cat := synthesis.NewCatalog(f.tts)
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.mgr = NewManager(Deps{TTS: f.tts, Catalog: cat, STT: f.stt, Metrics: m}, Defaults{
		Synthesis: synthesis.Config{PrepareDelay: -1},
	})
	t.Cleanup(func() { _ = f.mgr.Close() })
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestOpen_StartsOnSynthesisTab(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v, err := f.mgr.Open(f.source)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := v.Snapshot()
	if snap.Tab != TabSynthesis || snap.Synthesis == nil || snap.Transcription != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Chrome.Title != "Voice Converter" || len(snap.Chrome.Tabs) != 2 {
		t.Errorf("chrome = %+v", snap.Chrome)
	}
	if got, ok := f.mgr.Get(v.ID()); !ok || got != v {
		t.Error("Get did not return the opened view")
	}
	if _, err := v.Transcription(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Transcription() = %v, want ErrNotMounted", err)
	}
}

func TestSetTab_TearsDownHiddenPanel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v, _ := f.mgr.Open(f.source)

	if err := v.SetTab(TabTranscription); err != nil {
		t.Fatalf("SetTab: %v", err)
	}
	tp, err := v.Transcription()
	if err != nil {
		t.Fatalf("Transcription: %v", err)
	}
	if err := tp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "recognition session", func() bool { return len(f.stt.Calls()) == 1 })

	if err := v.SetTab(TabSynthesis); err != nil {
		t.Fatalf("SetTab back: %v", err)
	}
	waitFor(t, "microphone release", func() bool { return f.source.Last().Closed() })
	if err := tp.Start(); !errors.Is(err, transcription.ErrClosed) {
		t.Errorf("old panel Start = %v, want ErrClosed", err)
	}

	// Returning mounts a fresh panel with an empty transcript.
	_ = v.SetTab(TabTranscription)
	tp2, _ := v.Transcription()
	if tp2 == tp {
		t.Error("transcription panel was reused")
	}
	if s := tp2.Snapshot(); s.State != transcription.StateIdle || s.Finalized != "" {
		t.Errorf("fresh panel snapshot = %+v", s)
	}
}

func TestSetTab_SameTabIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v, _ := f.mgr.Open(f.source)
	sp, _ := v.Synthesis()
	if err := v.SetTab(TabSynthesis); err != nil {
		t.Fatalf("SetTab: %v", err)
	}
	if again, _ := v.Synthesis(); again != sp {
		t.Error("selecting the active tab remounted the panel")
	}
	if err := v.SetTab("settings"); !errors.Is(err, ErrUnknownTab) {
		t.Errorf("SetTab(settings) = %v, want ErrUnknownTab", err)
	}
}

func TestView_ForwardsPanelEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v, _ := f.mgr.Open(f.source)

	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	v.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	sp, _ := v.Synthesis()
	if err := sp.SetRate(1.5); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	_ = v.SetTab(TabTranscription)

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventSynthesis || kinds[1] != EventTab {
		t.Errorf("events = %v, want [synthesis tab]", kinds)
	}
}

func TestSetDefaults_AppliesToNextMount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v, _ := f.mgr.Open(f.source)
	f.mgr.SetDefaults(Defaults{
		Synthesis:     synthesis.Config{Rate: 1.25},
		Transcription: transcription.Config{Language: "fr-FR"},
	})

	if s := v.Snapshot().Synthesis; s.Rate != 1.0 {
		t.Errorf("mounted panel rate = %v, want unchanged 1.0", s.Rate)
	}
	_ = v.SetTab(TabTranscription)
	if s := v.Snapshot().Transcription; s.Language != "fr-FR" {
		t.Errorf("language = %q, want fr-FR", s.Language)
	}
	_ = v.SetTab(TabSynthesis)
	if s := v.Snapshot().Synthesis; s.Rate != 1.25 {
		t.Errorf("rate = %v, want 1.25", s.Rate)
	}
}

func TestManager_RemoveAndClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a, _ := f.mgr.Open(f.source)
	b, _ := f.mgr.Open(nil)
	if f.mgr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.mgr.Len())
	}

	f.mgr.Remove(a.ID())
	if _, ok := f.mgr.Get(a.ID()); ok {
		t.Error("removed view still indexed")
	}
	if err := a.SetTab(TabTranscription); !errors.Is(err, ErrClosed) {
		t.Errorf("SetTab on removed view = %v, want ErrClosed", err)
	}
	f.mgr.Remove("missing")

	_ = f.mgr.Close()
	if f.mgr.Len() != 0 {
		t.Error("views left after Close")
	}
	if _, err := b.Synthesis(); !errors.Is(err, ErrClosed) {
		t.Errorf("Synthesis after Close = %v, want ErrClosed", err)
	}
	if _, err := f.mgr.Open(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
}

func TestTranscriptionWithoutMicrophoneIsUnsupported(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v, _ := f.mgr.Open(nil)
	_ = v.SetTab(TabTranscription)
	if s := v.Snapshot().Transcription; s.Supported {
		t.Error("transcription supported without a microphone")
	}
}
