package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SamplesReceived.WithLabelValues("kafka/primary").Inc()
	m.TransformErrors.Inc()
	m.EntitiesEmitted.Add(3)
	m.BatchesTotal.WithLabelValues(OutcomeAccepted).Inc()
	m.DeliveryRetries.Inc()
	m.CoveragePercent.WithLabelValues("overall").Set(66)
	m.MissingEntities.Set(2)
	m.CycleDuration.Observe(0.25)

	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(fams) != 8 {
		t.Fatalf("expected 8 metric families, got %d", len(fams))
	}
}
