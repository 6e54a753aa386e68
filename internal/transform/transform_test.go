package transform

import (
	"strings"
	"testing"

	"github.com/platformbuilds/mq-entity-bridge/internal/model"
)

func newTestTransformer() *Transformer {
	return New("12345", model.ProviderKafka)
}

func brokerSample(cluster, id string, extra map[string]any) model.RawSample {
	attrs := map[string]any{
		"clusterName": cluster,
		"broker.id":   id,
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return model.RawSample{EventType: "KafkaBrokerSample", Attributes: attrs}
}

func topicSample(cluster, name string, extra map[string]any) model.RawSample {
	attrs := map[string]any{
		"clusterName": cluster,
		"topic.name":  name,
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return model.RawSample{EventType: "KafkaTopicSample", Attributes: attrs}
}

func findEntity(t *testing.T, entities []model.Entity, et model.EntityType, display string) model.Entity {
	t.Helper()
	for _, e := range entities {
		if e.EntityType == et && e.DisplayName == display {
			return e
		}
	}
	t.Fatalf("entity %s %q not found in %v", et, display, entities)
	return model.Entity{}
}

func hasRelationship(e model.Entity, relType, target string) bool {
	for _, r := range e.Relationships {
		if r.Type == relType && r.TargetGUID == target {
			return true
		}
	}
	return false
}

func TestTransformBrokerAndTopicScenario(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("prod", "1", map[string]any{"broker.IOInPerSecond": 1024.0}),
		topicSample("prod", "events", map[string]any{"topic.messagesInPerSecond": 42.0}),
	})

	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Entities) != 3 {
		t.Fatalf("expected 3 entities (cluster, broker, topic), got %d", len(res.Entities))
	}

	cluster := findEntity(t, res.Entities, model.EntityCluster, "prod")
	broker := findEntity(t, res.Entities, model.EntityBroker, "prod-broker-1")
	topic := findEntity(t, res.Entities, model.EntityTopic, "prod-topic-events")

	if cluster.ClusterName != "" {
		t.Fatalf("cluster entity should not carry an owning cluster name, got %q", cluster.ClusterName)
	}
	if broker.ClusterName != "prod" || topic.ClusterName != "prod" {
		t.Fatalf("children must carry owning cluster: broker=%q topic=%q", broker.ClusterName, topic.ClusterName)
	}

	if !hasRelationship(cluster, model.RelContains, broker.GUID) {
		t.Fatalf("cluster missing CONTAINS edge to broker")
	}
	if !hasRelationship(cluster, model.RelContains, topic.GUID) {
		t.Fatalf("cluster missing CONTAINS edge to topic")
	}
	if !hasRelationship(broker, model.RelBelongsTo, cluster.GUID) {
		t.Fatalf("broker missing BELONGS_TO edge to cluster")
	}
	if !hasRelationship(topic, model.RelBelongsTo, cluster.GUID) {
		t.Fatalf("topic missing BELONGS_TO edge to cluster")
	}

	if got := broker.Metrics["bytesInPerSec"]; got != 1024.0 {
		t.Fatalf("broker bytesInPerSec = %v, want 1024", got)
	}
	if got := topic.Metrics["messagesInPerSec"]; got != 42.0 {
		t.Fatalf("topic messagesInPerSec = %v, want 42", got)
	}
}

func TestTransformDeduplicatesClusterWithinPass(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("prod", "1", nil),
		brokerSample("prod", "2", nil),
		topicSample("prod", "events", nil),
	})

	clusters := 0
	for _, e := range res.Entities {
		if e.EntityType == model.EntityCluster {
			clusters++
		}
	}
	if clusters != 1 {
		t.Fatalf("expected exactly 1 cluster entity, got %d", clusters)
	}

	cluster := findEntity(t, res.Entities, model.EntityCluster, "prod")
	if len(cluster.Relationships) != 3 {
		t.Fatalf("cluster should contain 3 children, relationships=%v", cluster.Relationships)
	}
}

func TestTransformUpdatesRepeatedEntity(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("prod", "1", map[string]any{"broker.IOInPerSecond": 10.0}),
		brokerSample("prod", "1", map[string]any{"broker.IOOutPerSecond": 20.0}),
	})

	brokers := 0
	for _, e := range res.Entities {
		if e.EntityType == model.EntityBroker {
			brokers++
		}
	}
	if brokers != 1 {
		t.Fatalf("same broker sampled twice must emit one entity, got %d", brokers)
	}

	broker := findEntity(t, res.Entities, model.EntityBroker, "prod-broker-1")
	if broker.Metrics["bytesInPerSec"] != 10.0 || broker.Metrics["bytesOutPerSec"] != 20.0 {
		t.Fatalf("metrics not merged across samples: %v", broker.Metrics)
	}
	// no duplicate relationship edges either
	if len(broker.Relationships) != 1 {
		t.Fatalf("expected single BELONGS_TO edge, got %v", broker.Relationships)
	}
}

func TestTransformPartialFailure(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("prod", "1", nil),
		{EventType: "MysterySample", Attributes: map[string]any{"clusterName": "prod"}},
		{EventType: "KafkaTopicSample", Attributes: map[string]any{"clusterName": "prod"}}, // no topic.name
		topicSample("prod", "events", nil),
	})

	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", res.Errors)
	}
	if res.Errors[0].SampleIndex != 1 || res.Errors[1].SampleIndex != 2 {
		t.Fatalf("error indexes wrong: %v", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Reason, "unsupported eventType") {
		t.Fatalf("unknown kind reason: %q", res.Errors[0].Reason)
	}
	if !strings.Contains(res.Errors[1].Reason, "topic.name") {
		t.Fatalf("missing field reason: %q", res.Errors[1].Reason)
	}

	// cluster + broker + topic from the two good samples
	if len(res.Entities) != 3 {
		t.Fatalf("expected 3 entities from good samples, got %d", len(res.Entities))
	}
}

func TestTransformMissingMetricLeftUnset(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("prod", "1", map[string]any{"broker.IOInPerSecond": 0.0}),
	})

	broker := findEntity(t, res.Entities, model.EntityBroker, "prod-broker-1")
	if v, ok := broker.Metrics["bytesInPerSec"]; !ok || v != 0.0 {
		t.Fatalf("explicit zero must be recorded as zero: %v ok=%v", v, ok)
	}
	if _, ok := broker.Metrics["bytesOutPerSec"]; ok {
		t.Fatalf("absent attribute must leave metric unset")
	}
}

func TestTransformRejectsDelimiterInIdentity(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("pr|od", "1", nil),
	})
	if len(res.Entities) != 0 {
		t.Fatalf("malformed sample must not produce entities: %v", res.Entities)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Reason, "delimiter") {
		t.Fatalf("expected delimiter validation error, got %v", res.Errors)
	}
}

func TestTransformIdempotent(t *testing.T) {
	tr := newTestTransformer()
	samples := []model.RawSample{
		brokerSample("prod", "1", map[string]any{"broker.IOInPerSecond": 5.0}),
		topicSample("prod", "events", nil),
		brokerSample("staging", "2", nil),
	}

	first := tr.Transform(samples)
	second := tr.Transform(samples)

	if len(first.Entities) != len(second.Entities) {
		t.Fatalf("entity counts differ: %d vs %d", len(first.Entities), len(second.Entities))
	}
	byGUID := make(map[string]model.Entity)
	for _, e := range second.Entities {
		byGUID[e.GUID] = e
	}
	for _, e := range first.Entities {
		again, ok := byGUID[e.GUID]
		if !ok {
			t.Fatalf("guid %q missing from second pass", e.GUID)
		}
		if len(again.Metrics) != len(e.Metrics) {
			t.Fatalf("metrics differ for %q: %v vs %v", e.GUID, e.Metrics, again.Metrics)
		}
		for k, v := range e.Metrics {
			if again.Metrics[k] != v {
				t.Fatalf("metric %s differs for %q", k, e.GUID)
			}
		}
	}
}

func TestNumericBrokerIDKeysSameEntity(t *testing.T) {
	tr := newTestTransformer()
	res := tr.Transform([]model.RawSample{
		brokerSample("prod", "1", nil),
		{EventType: "KafkaBrokerSample", Attributes: map[string]any{
			"clusterName": "prod",
			"broker.id":   float64(1), // as decoded from JSON
		}},
	})
	brokers := 0
	for _, e := range res.Entities {
		if e.EntityType == model.EntityBroker {
			brokers++
		}
	}
	if brokers != 1 {
		t.Fatalf("string and numeric broker ids must dedupe, got %d brokers", brokers)
	}
}
