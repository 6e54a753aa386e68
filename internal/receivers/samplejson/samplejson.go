// Package samplejson decodes the queue agent's JSON sample shape shared by
// every receiver transport.
package samplejson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/platformbuilds/mq-entity-bridge/internal/model"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 10 * 1024 * 1024

// Decode parses one sample object. The agent emits flat events where every
// key besides eventType is an attribute:
//
//	{"eventType":"KafkaBrokerSample","clusterName":"prod","broker.id":"1",...}
//
// A nested "attributes" object is accepted too and merged over the flat keys.
func Decode(data []byte) (model.RawSample, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.RawSample{}, fmt.Errorf("decode sample: %w", err)
	}

	eventType, _ := raw["eventType"].(string)
	if strings.TrimSpace(eventType) == "" {
		return model.RawSample{}, fmt.Errorf("decode sample: missing eventType")
	}

	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "eventType" || k == "attributes" {
			continue
		}
		attrs[k] = v
	}
	if nested, ok := raw["attributes"].(map[string]any); ok {
		for k, v := range nested {
			attrs[k] = v
		}
	}
	return model.RawSample{EventType: eventType, Attributes: attrs}, nil
}

// DecodeStream parses either a single JSON object, a JSON array of samples,
// or NDJSON (one sample per line). It returns the decoded samples and the
// number of records it had to skip.
func DecodeStream(r io.Reader, ndjson bool) ([]model.RawSample, int) {
	if !ndjson {
		data, err := io.ReadAll(io.LimitReader(r, maxLineBytes))
		if err != nil {
			return nil, 1
		}
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			return decodeArray([]byte(trimmed))
		}
		s, err := Decode([]byte(trimmed))
		if err != nil {
			return nil, 1
		}
		return []model.RawSample{s}, 0
	}

	var (
		samples []model.RawSample
		skipped int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s, err := Decode([]byte(line))
		if err != nil {
			skipped++
			continue
		}
		samples = append(samples, s)
	}
	if sc.Err() != nil {
		skipped++
	}
	return samples, skipped
}

func decodeArray(data []byte) ([]model.RawSample, int) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, 1
	}
	var (
		samples []model.RawSample
		skipped int
	)
	for _, item := range items {
		s, err := Decode(item)
		if err != nil {
			skipped++
			continue
		}
		samples = append(samples, s)
	}
	return samples, skipped
}
