package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/mq-entity-bridge/internal/model"
)

// Duration wraps time.Duration so YAML values can be written in the usual
// "15s" / "200ms" form.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %v", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %v", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration object.
type Config struct {
	AccountID string                 `yaml:"account_id"`
	Provider  model.Provider         `yaml:"provider"`
	Receivers map[string]ReceiverCfg `yaml:"receivers"`
	Cycle     CycleCfg               `yaml:"cycle"`
	Delivery  DeliveryCfg            `yaml:"delivery"`
	Topology  model.DesiredTopology  `yaml:"topology"`
}

// ReceiverCfg configures one sample receiver. Keys may be written as
// "type/name" (e.g. "kafka/primary") to run several receivers of one type.
type ReceiverCfg struct {
	Name     string         `yaml:"-"`
	Type     string         `yaml:"type"`
	Endpoint string         `yaml:"endpoint,omitempty"`
	Brokers  []string       `yaml:"brokers,omitempty"`
	Topic    string         `yaml:"topic,omitempty"`
	Group    string         `yaml:"group,omitempty"`
	Extra    map[string]any `yaml:",inline"`
}

// CycleCfg bounds one collection cycle: a transform/reconcile/deliver pass
// runs when either limit is reached.
type CycleCfg struct {
	MaxSamples    int      `yaml:"max_samples"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// DeliveryCfg carries the delivery client knobs.
type DeliveryCfg struct {
	Endpoint      string       `yaml:"endpoint"`
	APIKey        string       `yaml:"api_key"`
	DryRun        bool         `yaml:"dry_run"`
	MaxBatchItems int          `yaml:"max_batch_items"`
	MaxBatchBytes int          `yaml:"max_batch_bytes"`
	Concurrency   int          `yaml:"concurrency"`
	RateLimit     RateLimitCfg `yaml:"rate_limit"`
	Retry         RetryCfg     `yaml:"retry"`
}

type RateLimitCfg struct {
	Requests    int      `yaml:"requests"`
	Window      Duration `yaml:"window"`
	WaitTimeout Duration `yaml:"wait_timeout"`
}

type RetryCfg struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
	Jitter      float64  `yaml:"jitter"`
}

// Load reads YAML config, normalizes composite receiver keys, and validates.
// Validation failures are configuration errors: fatal at startup, before any
// submission begins.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", model.ErrConfiguration, err)
	}

	for k, v := range cfg.Receivers {
		typ, name := splitKey(k)
		if v.Type == "" {
			v.Type = typ
		}
		if v.Name == "" {
			v.Name = name
		}
		if v.Extra == nil {
			v.Extra = map[string]any{}
		}
		cfg.Receivers[k] = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration surface. Every violation is reported as
// a model.ErrConfiguration.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", model.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.AccountID) == "" {
		return fail("account_id is required")
	}
	if !model.KnownProvider(c.Provider) {
		return fail("unknown provider %q", c.Provider)
	}
	if len(c.Receivers) == 0 {
		return fail("at least one receiver is required")
	}
	if c.Cycle.MaxSamples < 0 {
		return fail("cycle.max_samples must not be negative")
	}
	if c.Cycle.FlushInterval < 0 {
		return fail("cycle.flush_interval must not be negative")
	}
	if !c.Delivery.DryRun && strings.TrimSpace(c.Delivery.Endpoint) == "" {
		return fail("delivery.endpoint is required unless dry_run is set")
	}
	if c.Delivery.MaxBatchItems < 0 || c.Delivery.MaxBatchBytes < 0 || c.Delivery.Concurrency < 0 {
		return fail("delivery batch/concurrency parameters must not be negative")
	}
	if c.Delivery.RateLimit.Requests < 0 || c.Delivery.RateLimit.Window < 0 || c.Delivery.RateLimit.WaitTimeout < 0 {
		return fail("delivery.rate_limit parameters must not be negative")
	}
	if c.Delivery.Retry.MaxAttempts < 0 || c.Delivery.Retry.BaseBackoff < 0 || c.Delivery.Retry.MaxBackoff < 0 {
		return fail("delivery.retry parameters must not be negative")
	}
	if j := c.Delivery.Retry.Jitter; j < 0 || j > 1 {
		return fail("delivery.retry.jitter must be within [0,1]")
	}

	for i, cl := range c.Topology.Clusters {
		if strings.TrimSpace(cl.Name) == "" {
			return fail("topology.clusters[%d]: name is required", i)
		}
		if cl.Provider != "" && !model.KnownProvider(cl.Provider) {
			return fail("topology.clusters[%d]: unknown provider %q", i, cl.Provider)
		}
	}
	for i, b := range c.Topology.Brokers {
		if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.ClusterName) == "" {
			return fail("topology.brokers[%d]: id and cluster are required", i)
		}
	}
	for i, tp := range c.Topology.Topics {
		if strings.TrimSpace(tp.Name) == "" || strings.TrimSpace(tp.ClusterName) == "" {
			return fail("topology.topics[%d]: name and cluster are required", i)
		}
	}
	for i, q := range c.Topology.Queues {
		if strings.TrimSpace(q.Name) == "" || strings.TrimSpace(q.ClusterName) == "" {
			return fail("topology.queues[%d]: name and cluster are required", i)
		}
	}
	return nil
}

// splitKey lets you write receiver keys like "kafka/primary" in YAML.
// It splits into (type, name).
func splitKey(k string) (typ, name string) {
	if k == "" {
		return "", ""
	}
	parts := strings.SplitN(k, "/", 2)
	if len(parts) == 1 {
		return parts[0], parts[0]
	}
	return parts[0], parts[1]
}

// --- Helpers for reading typed extras ---

func (rc ReceiverCfg) ExtraString(key, def string) string {
	if rc.Extra == nil {
		return def
	}
	if v, ok := rc.Extra[key]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	return def
}

func (rc ReceiverCfg) ExtraBool(key string, def bool) bool {
	if rc.Extra == nil {
		return def
	}
	if v, ok := rc.Extra[key]; ok {
		if b, ok2 := v.(bool); ok2 {
			return b
		}
	}
	return def
}

func (rc ReceiverCfg) ExtraInt(key string, def int) int {
	if rc.Extra == nil {
		return def
	}
	if v, ok := rc.Extra[key]; ok {
		if n, ok2 := v.(int); ok2 {
			return n
		}
	}
	return def
}
