// Package transform converts raw agent samples into normalized topology
// entities. One Transform pass is a pure, single-threaded computation:
// samples are processed independently and in order, failures are recorded
// per sample, and entities are deduplicated by GUID within the pass.
package transform

import (
	"fmt"
	"strconv"

	"github.com/platformbuilds/mq-entity-bridge/internal/entity"
	"github.com/platformbuilds/mq-entity-bridge/internal/model"
)

// attrClusterName is the attribute every sample kind uses to name its
// owning cluster.
const attrClusterName = "clusterName"

// mappingRule describes how one sample kind becomes an entity: which
// attribute supplies the local identifier, how the display name is built,
// and which source attributes populate which metric keys.
type mappingRule struct {
	entityType  model.EntityType
	localIDAttr string
	displayName func(clusterName, localID string) string
	metricAttrs map[string]string // source attribute -> metric key
}

// rules is the registry of supported sample kinds. Dispatch is a closed
// mapping, not an open callback dictionary, so behavior stays exhaustively
// testable. Attribute names follow the queue agent's sample schema.
var rules = map[string]mappingRule{
	"KafkaBrokerSample": {
		entityType:  model.EntityBroker,
		localIDAttr: "broker.id",
		displayName: func(cluster, id string) string { return fmt.Sprintf("%s-broker-%s", cluster, id) },
		metricAttrs: map[string]string{
			"broker.IOInPerSecond":                   "bytesInPerSec",
			"broker.IOOutPerSecond":                  "bytesOutPerSec",
			"broker.messagesInPerSecond":             "messagesInPerSec",
			"request.produceRequestsPerSecond":       "produceRequestsPerSec",
			"request.fetchConsumerRequestsPerSecond": "fetchConsumerRequestsPerSec",
			"request.handlerIdle":                    "requestHandlerAvgIdlePercent",
			"request.avgTimeProduceRequest":          "produceTotalTimeMs",
			"request.avgTimeFetch":                   "fetchConsumerTotalTimeMs",
			"replication.unreplicatedPartitions":     "underReplicatedPartitions",
		},
	},
	"KafkaTopicSample": {
		entityType:  model.EntityTopic,
		localIDAttr: "topic.name",
		displayName: func(cluster, name string) string { return fmt.Sprintf("%s-topic-%s", cluster, name) },
		metricAttrs: map[string]string{
			"topic.bytesInPerSecond":           "bytesInPerSec",
			"topic.bytesOutPerSecond":          "bytesOutPerSec",
			"topic.messagesInPerSecond":        "messagesInPerSec",
			"topic.partitionCount":             "partitionCount",
			"topic.replicationFactor":          "replicationFactor",
			"request.produceRequestsPerSecond": "produceRequestsPerSec",
			"request.fetchRequestsPerSecond":   "fetchRequestsPerSec",
		},
	},
	"KafkaOffsetSample": {
		entityType:  model.EntityConsumerGroup,
		localIDAttr: "consumerGroup",
		displayName: func(cluster, group string) string { return fmt.Sprintf("%s-consumergroup-%s", cluster, group) },
		metricAttrs: map[string]string{
			"consumerLag":    "sumOffsetLag",
			"consumerOffset": "currentOffset",
			"highWaterMark":  "highWaterMark",
		},
	},
	"QueueSample": {
		entityType:  model.EntityQueue,
		localIDAttr: "queue.name",
		displayName: func(cluster, name string) string { return fmt.Sprintf("%s-queue-%s", cluster, name) },
		metricAttrs: map[string]string{
			"queue.depth":                   "queueDepth",
			"queue.consumers":               "consumerCount",
			"queue.oldestMessageAgeSeconds": "oldestMessageAgeSeconds",
			"queue.publishRatePerSecond":    "publishRatePerSec",
			"queue.ackRatePerSecond":        "ackRatePerSec",
		},
	},
}

// SupportedEventTypes lists the sample kinds the transformer accepts.
func SupportedEventTypes() []string {
	out := make([]string, 0, len(rules))
	for k := range rules {
		out = append(out, k)
	}
	return out
}

// Transformer mints entities for one account/provider pair. It holds no
// mutable state between passes and is safe for concurrent use on
// independent inputs.
type Transformer struct {
	accountID string
	provider  model.Provider
}

func New(accountID string, provider model.Provider) *Transformer {
	return &Transformer{accountID: accountID, provider: provider}
}

// pass tracks per-pass dedup state: entities by GUID in encounter order,
// plus the relationship edges already emitted.
type pass struct {
	order    []string
	byGUID   map[string]*model.Entity
	relSeen  map[string]bool   // "parentGUID->childGUID"
	clusters map[string]string // cluster name -> cluster GUID
}

// Transform converts samples into entities. A failure transforming one
// sample never aborts the pass: it is recorded in the result's Errors with
// the originating index and processing continues.
func (t *Transformer) Transform(samples []model.RawSample) model.TransformResult {
	p := &pass{
		byGUID:   make(map[string]*model.Entity),
		relSeen:  make(map[string]bool),
		clusters: make(map[string]string),
	}
	result := model.TransformResult{
		Entities: []model.Entity{},
		Errors:   []model.SampleError{},
	}

	for i, s := range samples {
		if err := t.apply(p, s); err != nil {
			result.Errors = append(result.Errors, model.SampleError{
				SampleIndex: i,
				Reason:      err.Error(),
			})
		}
	}

	for _, guid := range p.order {
		result.Entities = append(result.Entities, *p.byGUID[guid])
	}
	return result
}

// apply folds one sample into the pass state.
func (t *Transformer) apply(p *pass, s model.RawSample) error {
	rule, ok := rules[s.EventType]
	if !ok {
		return fmt.Errorf("%w: unsupported eventType %q", model.ErrTransformation, s.EventType)
	}

	clusterName, ok := stringAttr(s.Attributes, attrClusterName)
	if !ok {
		return fmt.Errorf("%w: %s sample missing required attribute %q",
			model.ErrValidation, s.EventType, attrClusterName)
	}
	localID, ok := stringAttr(s.Attributes, rule.localIDAttr)
	if !ok {
		return fmt.Errorf("%w: %s sample missing required attribute %q",
			model.ErrValidation, s.EventType, rule.localIDAttr)
	}

	guid, err := entity.DeriveGUID(rule.entityType, t.accountID, t.provider, clusterName, localID)
	if err != nil {
		return err
	}

	clusterGUID, err := t.ensureCluster(p, clusterName)
	if err != nil {
		return err
	}

	e, exists := p.byGUID[guid]
	if !exists {
		e = &model.Entity{
			EntityType:  rule.entityType,
			Provider:    t.provider,
			GUID:        guid,
			DisplayName: rule.displayName(clusterName, localID),
			ClusterName: clusterName,
			Metrics:     make(map[string]float64),
		}
		p.byGUID[guid] = e
		p.order = append(p.order, guid)
	}

	for srcAttr, metricKey := range rule.metricAttrs {
		if v, ok := floatAttr(s.Attributes, srcAttr); ok {
			e.Metrics[metricKey] = v
		}
	}

	t.link(p, clusterGUID, e)
	return nil
}

// ensureCluster mints the CLUSTER entity for clusterName the first time any
// sample references it in this pass.
func (t *Transformer) ensureCluster(p *pass, clusterName string) (string, error) {
	if guid, ok := p.clusters[clusterName]; ok {
		return guid, nil
	}
	// A cluster names itself: both the clusterName and localId components of
	// its GUID are its own name.
	guid, err := entity.DeriveGUID(model.EntityCluster, t.accountID, t.provider, clusterName, clusterName)
	if err != nil {
		return "", err
	}
	p.clusters[clusterName] = guid
	if _, exists := p.byGUID[guid]; !exists {
		p.byGUID[guid] = &model.Entity{
			EntityType:  model.EntityCluster,
			Provider:    t.provider,
			GUID:        guid,
			DisplayName: clusterName,
			Metrics:     make(map[string]float64),
		}
		p.order = append(p.order, guid)
	}
	return guid, nil
}

// link records the structural edges between a cluster and a child entity,
// at most once per pass per pair.
func (t *Transformer) link(p *pass, clusterGUID string, child *model.Entity) {
	edge := clusterGUID + "->" + child.GUID
	if p.relSeen[edge] {
		return
	}
	p.relSeen[edge] = true

	cluster := p.byGUID[clusterGUID]
	cluster.Relationships = append(cluster.Relationships, model.Relationship{
		Type:       model.RelContains,
		TargetGUID: child.GUID,
	})
	child.Relationships = append(child.Relationships, model.Relationship{
		Type:       model.RelBelongsTo,
		TargetGUID: clusterGUID,
	})
}

// stringAttr reads an identity attribute. Numeric values are accepted and
// rendered without a decimal point when integral, so a broker id decoded
// from JSON as float64 still keys the same entity.
func stringAttr(attrs map[string]any, key string) (string, bool) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	}
	return "", false
}

// floatAttr reads a numeric attribute. Absent or non-numeric values report
// ok=false so callers can distinguish "not observed" from zero.
func floatAttr(attrs map[string]any, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
