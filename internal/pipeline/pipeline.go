package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/platformbuilds/mq-entity-bridge/internal/config"
	"github.com/platformbuilds/mq-entity-bridge/internal/delivery"
	"github.com/platformbuilds/mq-entity-bridge/internal/gap"
	"github.com/platformbuilds/mq-entity-bridge/internal/model"
	"github.com/platformbuilds/mq-entity-bridge/internal/observability"
	"github.com/platformbuilds/mq-entity-bridge/internal/transform"

	// Receivers
	"github.com/platformbuilds/mq-entity-bridge/internal/receivers/httpjson"
	"github.com/platformbuilds/mq-entity-bridge/internal/receivers/kafka"
	"github.com/platformbuilds/mq-entity-bridge/internal/receivers/pulsar"
)

// Receiver pushes decoded samples downstream until ctx is canceled.
type Receiver interface {
	Start(ctx context.Context, out chan<- model.RawSample) error
}

// Submitter delivers a cycle's entities. Satisfied by delivery.Client.
type Submitter interface {
	Submit(ctx context.Context, entities []model.Entity) (model.SubmitResult, error)
}

const (
	defaultMaxSamples    = 1000
	defaultFlushInterval = 15 * time.Second
	shutdownFlushTimeout = 30 * time.Second
)

// Pipeline wires receivers into a cycle loop: accumulate samples, transform
// them into entities, reconcile against the desired topology, and submit.
type Pipeline struct {
	cfg     *config.Config
	metrics *observability.Metrics

	transformer *transform.Transformer
	client      Submitter
}

func New(cfg *config.Config, metrics *observability.Metrics) *Pipeline {
	d := cfg.Delivery
	client := delivery.New(delivery.Config{
		Endpoint:  d.Endpoint,
		APIKey:    d.APIKey,
		AccountID: cfg.AccountID,
		Provider:  cfg.Provider,
		DryRun:    d.DryRun,

		MaxBatchItems: d.MaxBatchItems,
		MaxBatchBytes: d.MaxBatchBytes,
		Concurrency:   d.Concurrency,

		RateRequests:    d.RateLimit.Requests,
		RateWindow:      d.RateLimit.Window.Std(),
		RateWaitTimeout: d.RateLimit.WaitTimeout.Std(),

		RetryMaxAttempts: d.Retry.MaxAttempts,
		RetryBaseBackoff: d.Retry.BaseBackoff.Std(),
		RetryMaxBackoff:  d.Retry.MaxBackoff.Std(),
		RetryJitter:      d.Retry.Jitter,
	}, metrics)

	return &Pipeline{
		cfg:         cfg,
		metrics:     metrics,
		transformer: transform.New(cfg.AccountID, cfg.Provider),
		client:      client,
	}
}

// Run starts all configured receivers and drives the cycle loop until ctx is
// canceled. A cycle flushes when either the sample cap or the flush interval
// is reached; a final flush drains whatever is pending at shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	receivers, err := buildReceivers(p.cfg)
	if err != nil {
		return err
	}

	samples := make(chan model.RawSample, 256)
	for key, r := range receivers {
		key, r := key, r
		out := make(chan model.RawSample)
		go func() {
			if err := r.Start(ctx, out); err != nil {
				log.Printf("[receiver:%s] error: %v", key, err)
			}
			close(out)
		}()
		go func() {
			for s := range out {
				p.metrics.SamplesReceived.WithLabelValues(key).Inc()
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	log.Printf("[pipeline] running: receivers=%d", len(receivers))
	return p.loop(ctx, samples)
}

// loop accumulates samples and flushes a cycle when either the sample cap or
// the flush interval is reached.
func (p *Pipeline) loop(ctx context.Context, samples <-chan model.RawSample) error {
	maxSamples := p.cfg.Cycle.MaxSamples
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	interval := p.cfg.Cycle.FlushInterval.Std()
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make([]model.RawSample, 0, maxSamples)
	for {
		select {
		case s := <-samples:
			pending = append(pending, s)
			if len(pending) >= maxSamples {
				p.runCycle(ctx, pending)
				pending = pending[:0]
				ticker.Reset(interval)
			}

		case <-ticker.C:
			if len(pending) > 0 {
				p.runCycle(ctx, pending)
				pending = pending[:0]
			}

		case <-ctx.Done():
			if len(pending) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
				p.runCycle(flushCtx, pending)
				cancel()
			}
			log.Printf("[pipeline] stopped")
			return nil
		}
	}
}

func (p *Pipeline) runCycle(ctx context.Context, batch []model.RawSample) {
	start := time.Now()

	res := p.transformer.Transform(batch)
	p.metrics.TransformErrors.Add(float64(len(res.Errors)))
	p.metrics.EntitiesEmitted.Add(float64(len(res.Entities)))
	for _, e := range res.Errors {
		log.Printf("[pipeline] sample %d dropped: %s", e.SampleIndex, e.Reason)
	}

	report := gap.Analyze(res.Entities, p.cfg.Topology)
	for category, stats := range report.CoverageReport {
		p.metrics.CoveragePercent.WithLabelValues(category).Set(float64(stats.Coverage))
	}
	p.metrics.MissingEntities.Set(float64(len(report.MissingEntities)))
	for _, m := range report.MissingEntities {
		log.Printf("[pipeline] missing %s %q cluster=%s", m.Type, m.Name, m.ClusterName)
	}

	result, err := p.client.Submit(ctx, res.Entities)
	if err != nil {
		log.Printf("[pipeline] submission interrupted: %v", err)
	}
	for _, f := range result.Failures {
		log.Printf("[pipeline] batch %d failed (%d entities, retryable=%t): %s",
			f.BatchIndex, f.Items, f.Retryable, f.Reason)
	}

	p.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	log.Printf("[pipeline] cycle done: samples=%d entities=%d errors=%d accepted=%d failed=%d coverage=%d%% in %s",
		len(batch), len(res.Entities), len(res.Errors), result.Accepted, result.Failed,
		report.CoverageReport[model.CategoryOverall].Coverage, time.Since(start).Round(time.Millisecond))
}

func buildReceivers(cfg *config.Config) (map[string]Receiver, error) {
	rx := make(map[string]Receiver, len(cfg.Receivers))
	for key, rc := range cfg.Receivers {
		var r Receiver
		switch rc.Type {
		case "kafka":
			r = kafka.New(rc)
		case "pulsar":
			r = pulsar.New(rc)
		case "httpjson", "http":
			r = httpjson.New(rc)
		default:
			return nil, fmt.Errorf("unknown receiver type %q (key=%s)", rc.Type, key)
		}
		rx[key] = r
	}
	return rx, nil
}
