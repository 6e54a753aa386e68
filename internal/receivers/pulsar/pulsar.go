package pulsar

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"

	ps "github.com/apache/pulsar-client-go/pulsar"

	"github.com/platformbuilds/mq-entity-bridge/internal/config"
	"github.com/platformbuilds/mq-entity-bridge/internal/model"
	"github.com/platformbuilds/mq-entity-bridge/internal/receivers/samplejson"
)

// Receiver consumes JSON telemetry samples from Apache Pulsar.
//
// Config mapping (config.ReceiverCfg):
//   - Endpoint OR Brokers[0]  => Pulsar serviceURL (e.g., pulsar://host:6650, pulsar+ssl://host:6651)
//   - Topic                   => topic to subscribe
//   - Group                   => subscription name
//   - Extra:
//     ndjson: bool (default false)          // split messages by newline
//     subscription_type: string             // "exclusive" | "shared" | "failover" | "key_shared" (default "shared")
//     auth_token: string                    // static token
//     auth_token_file: string               // read token from file (if auth_token empty)
//     tls_allow_insecure: bool              // default false
//     tls_trust_certs_file: string          // path to CA bundle for TLS
//     message_chan_buffer: int              // consumer buffer (default 32)
//     receiver_queue_size: int              // prefetch queue per consumer (default 1000)
type Receiver struct {
	serviceURL string
	topic      string
	subName    string

	ndjson bool

	// Pulsar client/consumer options
	subType           ps.SubscriptionType
	authToken         string
	authTokenFile     string
	tlsAllowInsecure  bool
	tlsTrustCertsPath string
	msgChanBuffer     int
	receiverQueueSize int
}

// New builds a Pulsar receiver from its config block.
func New(rc config.ReceiverCfg) *Receiver {
	// serviceURL: prefer rc.Endpoint if set; else first Brokers entry (kept for parity with other receivers)
	svc := strings.TrimSpace(rc.Endpoint)
	if svc == "" && len(rc.Brokers) > 0 {
		svc = strings.TrimSpace(rc.Brokers[0]) // e.g., pulsar://pulsar:6650
	}

	// Subscription type
	subType := ps.Shared
	if s := rc.ExtraString("subscription_type", ""); s != "" {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "exclusive":
			subType = ps.Exclusive
		case "failover":
			subType = ps.Failover
		case "key_shared", "keyshared", "key-shared":
			subType = ps.KeyShared
		default:
			subType = ps.Shared
		}
	}

	return &Receiver{
		serviceURL:        svc,
		topic:             rc.Topic,
		subName:           rc.Group, // mirrors Kafka group → Pulsar subscription name
		ndjson:            rc.ExtraBool("ndjson", false),
		subType:           subType,
		authToken:         rc.ExtraString("auth_token", ""),
		authTokenFile:     rc.ExtraString("auth_token_file", ""),
		tlsAllowInsecure:  rc.ExtraBool("tls_allow_insecure", false),
		tlsTrustCertsPath: rc.ExtraString("tls_trust_certs_file", ""),
		msgChanBuffer:     rc.ExtraInt("message_chan_buffer", 32),
		receiverQueueSize: rc.ExtraInt("receiver_queue_size", 1000),
	}
}

func (r *Receiver) Start(ctx context.Context, out chan<- model.RawSample) error {
	if r.serviceURL == "" || strings.TrimSpace(r.topic) == "" || strings.TrimSpace(r.subName) == "" {
		return errors.New("pulsar receiver: missing serviceURL, topic, or subscription name")
	}

	cliOpts := ps.ClientOptions{
		URL:                        r.serviceURL,
		TLSAllowInsecureConnection: r.tlsAllowInsecure,
		TLSTrustCertsFilePath:      r.tlsTrustCertsPath,
	}

	// Authentication
	if r.authToken != "" {
		cliOpts.Authentication = ps.NewAuthenticationToken(r.authToken)
	} else if r.authTokenFile != "" {
		cliOpts.Authentication = ps.NewAuthenticationTokenFromFile(r.authTokenFile)
	}

	client, err := ps.NewClient(cliOpts)
	if err != nil {
		return err
	}
	defer client.Close()

	consOpts := ps.ConsumerOptions{
		Topic:            r.topic,
		SubscriptionName: r.subName,
		Type:             r.subType,
		// Buffer sizes
		MessageChannel:    make(chan ps.ConsumerMessage, r.msgChanBuffer),
		ReceiverQueueSize: r.receiverQueueSize,
	}

	consumer, err := client.Subscribe(consOpts)
	if err != nil {
		return err
	}
	defer consumer.Close()

	log.Printf("[pulsar] consuming topic=%s subscription=%s url=%s", r.topic, r.subName, r.serviceURL)

	// Receive loop using the consumer's MessageChannel to avoid blocking Receive calls.
	msgCh := consumer.Chan()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cm, ok := <-msgCh:
			if !ok {
				// channel closed (consumer closed); exit gracefully
				return nil
			}
			msg := cm.Message

			samples, skipped := samplejson.DecodeStream(bytes.NewReader(msg.Payload()), r.ndjson)
			if skipped > 0 {
				log.Printf("[pulsar] skipped %d undecodable samples", skipped)
			}

			for _, s := range samples {
				select {
				case out <- s:
				case <-ctx.Done():
					consumer.Ack(msg)
					return nil
				}
			}

			// Ack after forwarding to avoid redelivery loops.
			consumer.Ack(msg)
		}
	}
}
