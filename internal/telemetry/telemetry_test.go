package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_RegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if m.PlanDuration == nil || m.TasksPlanned == nil || m.CacheHits == nil || m.BinaryGroups == nil {
		t.Fatalf("expected all metrics to be constructed")
	}
}

func TestNewTracer_DisabledConfigReturnsNoopTracer(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, span := tr.StartPhase(context.Background(), "dependency_analysis")
	span.End()
	if ctx == nil {
		t.Fatalf("expected a non-nil context from StartPhase")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}
