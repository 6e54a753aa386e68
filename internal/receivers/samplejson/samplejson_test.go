package samplejson

import (
	"strings"
	"testing"
)

func TestDecodeFlatSample(t *testing.T) {
	s, err := Decode([]byte(`{"eventType":"KafkaBrokerSample","clusterName":"prod","broker.id":"1","broker.IOInPerSecond":1024.5}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if s.EventType != "KafkaBrokerSample" {
		t.Fatalf("eventType = %q", s.EventType)
	}
	if s.Attributes["clusterName"] != "prod" || s.Attributes["broker.id"] != "1" {
		t.Fatalf("attributes wrong: %v", s.Attributes)
	}
	if s.Attributes["broker.IOInPerSecond"] != 1024.5 {
		t.Fatalf("numeric attribute wrong: %v", s.Attributes)
	}
	if _, ok := s.Attributes["eventType"]; ok {
		t.Fatalf("eventType must not leak into attributes")
	}
}

func TestDecodeNestedAttributes(t *testing.T) {
	s, err := Decode([]byte(`{"eventType":"QueueSample","clusterName":"bus","attributes":{"queue.name":"orders"}}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if s.Attributes["queue.name"] != "orders" || s.Attributes["clusterName"] != "bus" {
		t.Fatalf("nested attributes not merged: %v", s.Attributes)
	}
}

func TestDecodeRejectsMissingEventType(t *testing.T) {
	if _, err := Decode([]byte(`{"clusterName":"prod"}`)); err == nil {
		t.Fatalf("expected error for sample without eventType")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestDecodeStreamNDJSON(t *testing.T) {
	body := strings.Join([]string{
		`{"eventType":"KafkaBrokerSample","clusterName":"prod","broker.id":"1"}`,
		``,
		`garbage line`,
		`{"eventType":"KafkaTopicSample","clusterName":"prod","topic.name":"events"}`,
	}, "\n")

	samples, skipped := DecodeStream(strings.NewReader(body), true)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped record, got %d", skipped)
	}
}

func TestDecodeStreamArray(t *testing.T) {
	body := `[
		{"eventType":"KafkaBrokerSample","clusterName":"prod","broker.id":"1"},
		{"eventType":"KafkaTopicSample","clusterName":"prod","topic.name":"events"}
	]`
	samples, skipped := DecodeStream(strings.NewReader(body), false)
	if len(samples) != 2 || skipped != 0 {
		t.Fatalf("array decode wrong: %d samples, %d skipped", len(samples), skipped)
	}
}

func TestDecodeStreamSingleObject(t *testing.T) {
	samples, skipped := DecodeStream(strings.NewReader(`{"eventType":"QueueSample","clusterName":"bus","queue.name":"q"}`), false)
	if len(samples) != 1 || skipped != 0 {
		t.Fatalf("single object decode wrong: %d samples, %d skipped", len(samples), skipped)
	}
}
