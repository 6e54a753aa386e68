// Package delivery ships entity batches to the remote telemetry backend
// under a rate budget, retrying transient failures with exponential backoff
// and surfacing permanent rejects without retry.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/platformbuilds/mq-entity-bridge/internal/model"
	"github.com/platformbuilds/mq-entity-bridge/internal/observability"
)

// Config carries the delivery knobs. Zero values fall back to the defaults
// below; validation of user-supplied values happens at config load.
type Config struct {
	Endpoint  string
	APIKey    string
	AccountID string
	Provider  model.Provider
	DryRun    bool

	MaxBatchItems int
	MaxBatchBytes int
	Concurrency   int

	RateRequests    int
	RateWindow      time.Duration
	RateWaitTimeout time.Duration

	RetryMaxAttempts int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration
	RetryJitter      float64
}

const (
	defaultMaxBatchItems = 100
	defaultMaxBatchBytes = 1 << 20
	defaultConcurrency   = 4
	defaultRateRequests  = 10
	defaultRateWindow    = time.Second
	defaultWaitTimeout   = 5 * time.Second
	defaultMaxAttempts   = 5
	defaultBaseBackoff   = 200 * time.Millisecond
	defaultMaxBackoff    = 10 * time.Second
	defaultJitter        = 0.2
)

func (c *Config) applyDefaults() {
	if c.MaxBatchItems <= 0 {
		c.MaxBatchItems = defaultMaxBatchItems
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = defaultMaxBatchBytes
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.RateRequests <= 0 {
		c.RateRequests = defaultRateRequests
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	if c.RateWaitTimeout <= 0 {
		c.RateWaitTimeout = defaultWaitTimeout
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = defaultMaxAttempts
	}
	if c.RetryBaseBackoff <= 0 {
		c.RetryBaseBackoff = defaultBaseBackoff
	}
	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = defaultMaxBackoff
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = defaultJitter
	}
}

// payload is the per-batch wire body. The backend acknowledges per batch:
// accept, transient-reject, or permanent-reject.
type payload struct {
	AccountID string         `json:"accountId"`
	Provider  model.Provider `json:"provider"`
	Entities  []model.Entity `json:"entities"`
}

// Client submits entity batches. The token bucket is the only shared mutable
// state; rate.Limiter serializes access internally so concurrent batch
// goroutines cannot double-spend tokens.
type Client struct {
	cfg        Config
	limiter    *rate.Limiter
	httpClient *http.Client
	metrics    *observability.Metrics
}

// New builds a delivery client. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Client {
	cfg.applyDefaults()
	perSecond := rate.Limit(float64(cfg.RateRequests) / cfg.RateWindow.Seconds())
	return &Client{
		cfg:        cfg,
		limiter:    rate.NewLimiter(perSecond, cfg.RateRequests),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    metrics,
	}
}

// batch is one independently-submitted slice of the input.
type batch struct {
	index    int
	entities []model.Entity
	body     []byte
}

// Submit batches entities and ships them concurrently up to the configured
// ceiling. Per-batch failures never abort the submission; they are reported
// in the result. The returned error is non-nil only when ctx was cancelled,
// in which case unacknowledged batches are reported as failed-cancelled.
func (c *Client) Submit(ctx context.Context, entities []model.Entity) (model.SubmitResult, error) {
	result := model.SubmitResult{Failures: []model.BatchFailure{}}
	if len(entities) == 0 {
		return result, nil
	}

	batches, prefailed := c.split(entities)

	outcomes := make([]*model.BatchFailure, len(batches))
	accepted := make([]int, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			if failure := c.sendBatch(gctx, b); failure != nil {
				outcomes[b.index] = failure
			} else {
				accepted[b.index] = len(b.entities)
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines report through outcomes, never through errors

	for i := range batches {
		if f := outcomes[i]; f != nil {
			result.Failed += f.Items
			result.Failures = append(result.Failures, *f)
		} else {
			result.Accepted += accepted[i]
		}
	}
	for _, f := range prefailed {
		result.Failed += f.Items
		result.Failures = append(result.Failures, f)
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("submission interrupted: %w", err)
	}
	return result, nil
}

// split chunks entities into batches bounded by item count and byte size.
// An entity that cannot be marshaled fails alone without blocking its
// neighbors.
func (c *Client) split(entities []model.Entity) ([]batch, []model.BatchFailure) {
	var (
		batches   []batch
		prefailed []model.BatchFailure
		current   []model.Entity
		size      int
	)

	// per-entity sizes drive the byte bound; the envelope overhead is small
	// and constant per batch
	flush := func() {
		if len(current) == 0 {
			return
		}
		b := batch{index: len(batches), entities: current}
		body, err := json.Marshal(payload{
			AccountID: c.cfg.AccountID,
			Provider:  c.cfg.Provider,
			Entities:  current,
		})
		if err != nil {
			prefailed = append(prefailed, model.BatchFailure{
				BatchIndex: b.index,
				Items:      len(current),
				Reason:     fmt.Sprintf("%v: marshal batch: %v", model.ErrPermanentDelivery, err),
			})
			current, size = nil, 0
			return
		}
		b.body = body
		batches = append(batches, b)
		current, size = nil, 0
	}

	for _, e := range entities {
		enc, err := json.Marshal(e)
		if err != nil {
			prefailed = append(prefailed, model.BatchFailure{
				BatchIndex: -1,
				Items:      1,
				Reason:     fmt.Sprintf("%v: marshal entity %s: %v", model.ErrPermanentDelivery, e.GUID, err),
			})
			continue
		}
		if len(current) >= c.cfg.MaxBatchItems || (size > 0 && size+len(enc) > c.cfg.MaxBatchBytes) {
			flush()
		}
		current = append(current, e)
		size += len(enc)
	}
	flush()
	return batches, prefailed
}

// sendBatch runs the rate-limit acquire and the retry loop for one batch.
// Retries are strictly sequential within this call; nil return means the
// backend accepted the batch.
func (c *Client) sendBatch(ctx context.Context, b batch) *model.BatchFailure {
	if c.cfg.DryRun {
		if err := c.validateDryRun(b); err != nil {
			c.countBatch(observability.OutcomePermanent)
			return &model.BatchFailure{
				BatchIndex: b.index, Items: len(b.entities), Reason: err.Error(),
			}
		}
		c.countBatch(observability.OutcomeDryRun)
		return nil
	}

	// Bounded-wait token acquire: block until a token frees or the wait
	// budget elapses.
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.RateWaitTimeout)
	err := c.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			c.countBatch(observability.OutcomeCancelled)
			return c.cancelledFailure(b)
		}
		c.countBatch(observability.OutcomeRateLimited)
		return &model.BatchFailure{
			BatchIndex: b.index,
			Items:      len(b.entities),
			Reason:     fmt.Sprintf("%v: no token within %s", model.ErrRateLimitExceeded, c.cfg.RateWaitTimeout),
			Retryable:  true,
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryMaxAttempts; attempt++ {
		err := c.post(ctx, b.body)
		if err == nil {
			c.countBatch(observability.OutcomeAccepted)
			return nil
		}
		lastErr = err

		if errors.Is(err, model.ErrPermanentDelivery) {
			c.countBatch(observability.OutcomePermanent)
			return &model.BatchFailure{
				BatchIndex: b.index, Items: len(b.entities), Reason: err.Error(),
			}
		}
		if attempt == c.cfg.RetryMaxAttempts {
			break
		}

		if c.metrics != nil {
			c.metrics.DeliveryRetries.Inc()
		}
		delay := c.backoff(attempt)
		log.Printf("[delivery] batch %d attempt %d/%d failed (%v), retrying in %s",
			b.index, attempt, c.cfg.RetryMaxAttempts, err, delay)

		select {
		case <-ctx.Done():
			c.countBatch(observability.OutcomeCancelled)
			return c.cancelledFailure(b)
		case <-time.After(delay):
		}
	}

	c.countBatch(observability.OutcomeTransient)
	return &model.BatchFailure{
		BatchIndex: b.index,
		Items:      len(b.entities),
		Reason: fmt.Sprintf("%v: %d attempts exhausted: %v",
			model.ErrTransientDelivery, c.cfg.RetryMaxAttempts, lastErr),
	}
}

// post performs one submission attempt and classifies the response.
func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", model.ErrPermanentDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Api-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend HTTP %d", model.ErrTransientDelivery, resp.StatusCode)
	default:
		return fmt.Errorf("%w: backend HTTP %d", model.ErrPermanentDelivery, resp.StatusCode)
	}
}

// backoff computes the sleep before the next attempt: exponential in the
// attempt number, jittered, capped.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.RetryBaseBackoff << (attempt - 1)
	if d > c.cfg.RetryMaxBackoff || d <= 0 {
		d = c.cfg.RetryMaxBackoff
	}
	spread := 1 + c.cfg.RetryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * spread)
}

// validateDryRun is the dry-run stand-in for a network call: a local payload
// shape check that never contacts the backend.
func (c *Client) validateDryRun(b batch) error {
	for _, e := range b.entities {
		if e.GUID == "" || e.EntityType == "" || e.DisplayName == "" {
			return fmt.Errorf("%w: dry-run: entity missing identity fields: %+v",
				model.ErrPermanentDelivery, e)
		}
	}
	if len(b.body) == 0 {
		return fmt.Errorf("%w: dry-run: empty payload", model.ErrPermanentDelivery)
	}
	return nil
}

func (c *Client) cancelledFailure(b batch) *model.BatchFailure {
	return &model.BatchFailure{
		BatchIndex: b.index,
		Items:      len(b.entities),
		Reason:     "cancelled before acknowledgement",
		Retryable:  true,
	}
}

func (c *Client) countBatch(outcome string) {
	if c.metrics != nil {
		c.metrics.BatchesTotal.WithLabelValues(outcome).Inc()
	}
}
