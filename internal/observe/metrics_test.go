package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// readMetrics records through fn on fresh metrics and returns everything
// the reader collected.
func readMetrics(t *testing.T, fn func(ctx context.Context, m *Metrics)) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	fn(context.Background(), m)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// point returns the int64 data point of name whose attributes include kv,
// or -1 when there is none.
func point(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v.Emit() == kv.Value.Emit() {
			return dp.Value
		}
	}
	return -1
}

func TestRecordHelpers(t *testing.T) {
	rm := readMetrics(t, func(ctx context.Context, m *Metrics) {
		m.RecordProviderRequest(ctx, "elevenlabs", "tts", "ok")
		m.RecordProviderRequest(ctx, "elevenlabs", "tts", "ok")
		m.RecordProviderRequest(ctx, "deepgram", "stt", "error")
		m.RecordProviderError(ctx, "deepgram", "stt")
		m.RecordUtterance(ctx, "completed", 1.5)
		m.RecordUtterance(ctx, "cancelled", 0.2)
		m.RecordUtterance(ctx, "completed", 3)
		m.RecordSegment(ctx, false)
		m.RecordSegment(ctx, false)
		m.RecordSegment(ctx, true)
		m.RecordShare(ctx, "ok")
		m.RecordShare(ctx, "unavailable")
	})

	tests := []struct {
		metric string
		attr   attribute.KeyValue
		want   int64
	}{
		{"voxconv.provider.requests", attribute.String("status", "ok"), 2},
		{"voxconv.provider.requests", attribute.String("provider", "deepgram"), 1},
		{"voxconv.provider.errors", attribute.String("kind", "stt"), 1},
		{"voxconv.tts.utterances", attribute.String("status", "completed"), 2},
		{"voxconv.tts.utterances", attribute.String("status", "cancelled"), 1},
		{"voxconv.stt.segments", attribute.String("kind", "interim"), 2},
		{"voxconv.stt.segments", attribute.String("kind", "final"), 1},
		{"voxconv.transcript.shares", attribute.String("status", "unavailable"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.attr.Value.AsString(), func(t *testing.T) {
			if got := point(t, rm, tt.metric, tt.attr); got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}

	met := findMetric(rm, "voxconv.tts.utterance.duration")
	if met == nil {
		t.Fatal("utterance duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("utterance duration samples = %d, want 3", count)
	}
}

func TestHistograms(t *testing.T) {
	names := []string{
		"voxconv.tts.first_audio",
		"voxconv.stt.session.duration",
		"voxconv.http.request.duration",
	}
	rm := readMetrics(t, func(ctx context.Context, m *Metrics) {
		m.TTSTimeToFirstAudio.Record(ctx, 0.12)
		m.RecognitionDuration.Record(ctx, 42)
		m.HTTPRequestDuration.Record(ctx, 0.003)
	})
	for _, name := range names {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s: not found", name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("%s: data = %+v, want one sample", name, met.Data)
		}
	}
}

func TestUpDownCounters(t *testing.T) {
	rm := readMetrics(t, func(ctx context.Context, m *Metrics) {
		m.ActiveViews.Add(ctx, 3)
		m.ActiveViews.Add(ctx, -1)
		m.ActiveRecognitions.Add(ctx, 1)
		m.ActiveRecognitions.Add(ctx, -1)
	})
	for name, want := range map[string]int64{
		"voxconv.active_views":        2,
		"voxconv.active_recognitions": 0,
	} {
		sum, ok := findMetric(rm, name).Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Fatalf("%s: unexpected data %+v", name, sum)
		}
		if sum.IsMonotonic {
			t.Errorf("%s: monotonic, want up-down", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
