package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"recordcore/internal/infra/adapter/memory"
	"recordcore/pkg/domain"
)

func TestPrometheusRecorderCountsStoreTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg, "recordcore")
	if err != nil {
		t.Fatalf("build recorder: %v", err)
	}
	adapter := memory.New()
	adapter.Seed(domain.Payload{Type: "article", ID: "a1", Attributes: map[string]any{"title": "x"}})
	s := newTestStore(t, adapter, WithMetrics(rec))

	if _, err := s.FindRecord(context.Background(), "article", "a1"); err != nil {
		t.Fatal(err)
	}
	s.Flush()
	b, err := s.CreateRecord("article", map[string]any{"title": "draft"})
	if err != nil {
		t.Fatal(err)
	}
	s.Save(context.Background(), b)
	s.Flush()
	if err := b.UnloadRecord(); err != nil {
		t.Fatal(err)
	}
	s.Flush()

	loaded := testutil.ToFloat64(rec.loaded.WithLabelValues("article"))
	if loaded != 1 {
		t.Fatalf("records_loaded_total = %v", loaded)
	}
	if got := testutil.ToFloat64(rec.created.WithLabelValues("article")); got != 1 {
		t.Fatalf("records_created_total = %v", got)
	}
	if got := testutil.ToFloat64(rec.saved.WithLabelValues("article", "create")); got != 1 {
		t.Fatalf("records_saved_total = %v", got)
	}
	if got := testutil.ToFloat64(rec.destroyed.WithLabelValues("article")); got != 1 {
		t.Fatalf("records_destroyed_total = %v", got)
	}
	if got := testutil.ToFloat64(rec.flushes); got != 3 {
		t.Fatalf("flushes_total = %v", got)
	}
}

func TestPrometheusRecorderCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg, "recordcore")
	if err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, memory.New(), WithMetrics(rec))
	b, err := s.CreateRecord("article", nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Save(context.Background(), b) // fails validation: empty title
	if got := testutil.ToFloat64(rec.failed.WithLabelValues("article", "invalid")); got != 1 {
		t.Fatalf("saves_failed_total{invalid} = %v", got)
	}
}

func TestPrometheusRecorderRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetricsRecorder(reg, "recordcore"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg, "recordcore"); err == nil {
		t.Fatal("second registration under one namespace must fail")
	}
}

func TestBasicFacadeRecordsLifecycle(t *testing.T) {
	s := newTestStore(t, memory.New())
	b, err := s.CreateRecord("article", map[string]any{"title": "draft"})
	if err != nil {
		t.Fatal(err)
	}
	f, ok := b.Facade().(*BasicFacade)
	if !ok {
		t.Fatalf("default facade is %T", b.Facade())
	}
	if f.StatePath() != "root.loaded.created.uncommitted" {
		t.Fatalf("facade state = %q", f.StatePath())
	}
	if f.Identity() != b.Identity() {
		t.Fatal("facade identity mismatch")
	}

	if err := b.SetDirtyAttribute("title", "edited"); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, key := range f.ChangedProperties() {
		if key == "title" {
			found = true
		}
	}
	if !found {
		t.Fatalf("title notification missing: %v", f.ChangedProperties())
	}

	if err := b.UnloadRecord(); err != nil {
		t.Fatal(err)
	}
	if !f.Destroyed() {
		t.Fatal("unload must destroy the facade")
	}
}
