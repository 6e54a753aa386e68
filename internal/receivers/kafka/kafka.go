package kafka

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/platformbuilds/mq-entity-bridge/internal/config"
	"github.com/platformbuilds/mq-entity-bridge/internal/model"
	"github.com/platformbuilds/mq-entity-bridge/internal/receivers/samplejson"
)

// Receiver consumes agent sample payloads from Kafka and forwards them as
// model.RawSample. A message may carry one JSON sample, a JSON array of
// samples, or NDJSON (extra.ndjson = true).
type Receiver struct {
	brokers []string
	topic   string
	group   string

	maxBytes int  // per message fetch cap
	ndjson   bool // split message by lines
}

// New builds a Kafka receiver.
func New(rc config.ReceiverCfg) *Receiver {
	maxBytes := rc.ExtraInt("max_bytes", 10*1024*1024)
	return &Receiver{
		brokers:  rc.Brokers,
		topic:    rc.Topic,
		group:    rc.Group,
		maxBytes: maxBytes,
		ndjson:   rc.ExtraBool("ndjson", false),
	}
}

func (r *Receiver) Start(ctx context.Context, out chan<- model.RawSample) error {
	if len(r.brokers) == 0 || strings.TrimSpace(r.topic) == "" {
		return errors.New("kafka receiver: missing brokers or topic")
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  r.brokers,
		GroupID:  r.groupOrDefault(),
		Topic:    r.topic,
		MaxBytes: r.maxBytes,
	})
	defer func() { _ = reader.Close() }()

	log.Printf("[kafka] consuming topic=%s group=%s brokers=%v", r.topic, r.groupOrDefault(), r.brokers)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			// graceful exit on context cancellation
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("[kafka] read error: %v", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}
		}

		samples, skipped := samplejson.DecodeStream(bytes.NewReader(msg.Value), r.ndjson)
		if skipped > 0 {
			log.Printf("[kafka] skipped %d undecodable record(s) in message at offset %d", skipped, msg.Offset)
		}
		for _, s := range samples {
			select {
			case out <- s:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Receiver) groupOrDefault() string {
	g := strings.TrimSpace(r.group)
	if g == "" {
		return "mq-entity-bridge"
	}
	return g
}
