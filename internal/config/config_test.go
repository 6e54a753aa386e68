package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platformbuilds/mq-entity-bridge/internal/config"
	"github.com/platformbuilds/mq-entity-bridge/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `account_id: "12345"
provider: kafka
receivers:
  kafka/primary:
    brokers: ["localhost:9092"]
    topic: mq-samples
    group: mq-entity-bridge
  httpjson:
    endpoint: "0.0.0.0:9428"
cycle:
  max_samples: 500
  flush_interval: 15s
delivery:
  endpoint: https://telemetry.example.com/v1/entities
  api_key: secret
  max_batch_items: 100
  max_batch_bytes: 1048576
  concurrency: 4
  rate_limit:
    requests: 10
    window: 1s
    wait_timeout: 5s
  retry:
    max_attempts: 5
    base_backoff: 200ms
    max_backoff: 10s
    jitter: 0.2
topology:
  clusters:
    - {name: prod, provider: kafka}
  brokers:
    - {id: "1", cluster: prod}
  topics:
    - {name: events, cluster: prod}
  queues: []
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.AccountID != "12345" || cfg.Provider != model.ProviderKafka {
		t.Fatalf("identity fields wrong: %+v", cfg)
	}

	rc, ok := cfg.Receivers["kafka/primary"]
	if !ok {
		t.Fatalf("composite receiver key not loaded")
	}
	if rc.Type != "kafka" || rc.Name != "primary" {
		t.Fatalf("composite key not normalized: type=%q name=%q", rc.Type, rc.Name)
	}
	hj := cfg.Receivers["httpjson"]
	if hj.Type != "httpjson" || hj.Name != "httpjson" {
		t.Fatalf("plain key not normalized: type=%q name=%q", hj.Type, hj.Name)
	}

	if cfg.Cycle.FlushInterval.Std() != 15*time.Second {
		t.Fatalf("flush interval wrong: %v", cfg.Cycle.FlushInterval)
	}
	if cfg.Delivery.Retry.MaxAttempts != 5 || cfg.Delivery.RateLimit.Requests != 10 {
		t.Fatalf("delivery knobs wrong: %+v", cfg.Delivery)
	}
	if len(cfg.Topology.Brokers) != 1 || cfg.Topology.Brokers[0].ClusterName != "prod" {
		t.Fatalf("topology wrong: %+v", cfg.Topology)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{
			name:    "missing account",
			mutate:  func(s string) string { return strings.Replace(s, `account_id: "12345"`, `account_id: ""`, 1) },
			wantMsg: "account_id",
		},
		{
			name:    "unknown provider",
			mutate:  func(s string) string { return strings.Replace(s, "provider: kafka", "provider: carrierpigeon", 1) },
			wantMsg: "provider",
		},
		{
			name:    "bad jitter",
			mutate:  func(s string) string { return strings.Replace(s, "jitter: 0.2", "jitter: 3.5", 1) },
			wantMsg: "jitter",
		},
		{
			name: "broker without cluster",
			mutate: func(s string) string {
				return strings.Replace(s, `- {id: "1", cluster: prod}`, `- {id: "1", cluster: ""}`, 1)
			},
			wantMsg: "topology.brokers",
		},
		{
			name: "endpoint required without dry run",
			mutate: func(s string) string {
				return strings.Replace(s, "endpoint: https://telemetry.example.com/v1/entities", `endpoint: ""`, 1)
			},
			wantMsg: "delivery.endpoint",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.mutate(validYAML)))
			if err == nil {
				t.Fatalf("expected configuration error")
			}
			if !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoadAllowsDryRunWithoutEndpoint(t *testing.T) {
	body := strings.Replace(validYAML,
		"endpoint: https://telemetry.example.com/v1/entities",
		"endpoint: \"\"\n  dry_run: true", 1)
	if _, err := config.Load(writeConfig(t, body)); err != nil {
		t.Fatalf("dry-run config should not require endpoint: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
