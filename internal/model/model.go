package model

// RawSample is one telemetry record as emitted by a message-queue
// infrastructure agent. Receivers decode agent JSON into this shape and the
// transformer reads it without retaining it.
type RawSample struct {
	// EventType identifies the sample kind.
	// Supported values:
	//   "KafkaBrokerSample"  - per-broker throughput/request metrics
	//   "KafkaTopicSample"   - per-topic throughput/partition metrics
	//   "KafkaOffsetSample"  - consumer-group lag metrics
	//   "QueueSample"        - generic queue depth/consumer metrics
	EventType string `json:"eventType"`

	// Attributes maps attribute name to a scalar value (string or number).
	// Which keys are required depends on EventType; the transformer rejects
	// samples missing their type's identity fields.
	Attributes map[string]any `json:"attributes"`
}

// EntityType enumerates the normalized topology node kinds.
type EntityType string

const (
	EntityCluster       EntityType = "CLUSTER"
	EntityBroker        EntityType = "BROKER"
	EntityTopic         EntityType = "TOPIC"
	EntityQueue         EntityType = "QUEUE"
	EntityConsumerGroup EntityType = "CONSUMER_GROUP"
)

// Provider enumerates the supported message-queue providers.
type Provider string

const (
	ProviderKafka           Provider = "kafka"
	ProviderRabbitMQ        Provider = "rabbitmq"
	ProviderSQS             Provider = "sqs"
	ProviderAzureServiceBus Provider = "azure_service_bus"
	ProviderPubSub          Provider = "pubsub"
)

// KnownProvider reports whether p is one of the supported providers.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderKafka, ProviderRabbitMQ, ProviderSQS, ProviderAzureServiceBus, ProviderPubSub:
		return true
	}
	return false
}

// Relationship types for entity back-references.
const (
	RelContains  = "CONTAINS"
	RelBelongsTo = "BELONGS_TO"
)

// Relationship is a soft, GUID-valued back-reference to another entity,
// resolved by lookup against the entity set rather than by pointer.
type Relationship struct {
	Type       string `json:"relationshipType"`
	TargetGUID string `json:"targetEntityGuid"`
}

// Entity is a normalized topology node. Instances are recreated fresh each
// collection cycle; identity across cycles is carried by the deterministic GUID.
type Entity struct {
	EntityType    EntityType         `json:"entityType"`
	Provider      Provider           `json:"provider"`
	GUID          string             `json:"entityGuid"`
	DisplayName   string             `json:"displayName"`
	ClusterName   string             `json:"clusterName"` // empty for CLUSTER entities
	Metrics       map[string]float64 `json:"metrics"`     // absent keys mean "not observed", never zero-filled
	Relationships []Relationship     `json:"relationships,omitempty"`
}

// SampleError records one failed sample within a transform pass.
type SampleError struct {
	SampleIndex int    `json:"sampleIndex"`
	Reason      string `json:"reason"`
}

// TransformResult is the output of one transform pass. Entities appear in
// encounter order; Errors carries the per-sample failures. Both lists are
// always non-nil.
type TransformResult struct {
	Entities []Entity      `json:"entities"`
	Errors   []SampleError `json:"errors"`
}

// ClusterDescriptor names an expected cluster.
type ClusterDescriptor struct {
	Name     string   `yaml:"name" json:"name"`
	Provider Provider `yaml:"provider" json:"provider"`
}

// BrokerDescriptor names an expected broker within a cluster.
type BrokerDescriptor struct {
	ID          string `yaml:"id" json:"id"`
	ClusterName string `yaml:"cluster" json:"clusterName"`
}

// TopicDescriptor names an expected topic within a cluster.
type TopicDescriptor struct {
	Name        string `yaml:"name" json:"name"`
	ClusterName string `yaml:"cluster" json:"clusterName"`
}

// QueueDescriptor names an expected queue within a cluster.
type QueueDescriptor struct {
	Name        string `yaml:"name" json:"name"`
	ClusterName string `yaml:"cluster" json:"clusterName"`
}

// DesiredTopology is the externally supplied expected shape of the system.
// Read-only input to the gap detector.
type DesiredTopology struct {
	Clusters []ClusterDescriptor `yaml:"clusters" json:"clusters"`
	Brokers  []BrokerDescriptor  `yaml:"brokers" json:"brokers"`
	Topics   []TopicDescriptor   `yaml:"topics" json:"topics"`
	Queues   []QueueDescriptor   `yaml:"queues" json:"queues"`
}

// MissingEntity identifies one desired entity absent from the actual topology.
type MissingEntity struct {
	Type        EntityType `json:"type"`
	Name        string     `json:"name"`
	ClusterName string     `json:"clusterName"`
}

// CoverageStats reports expected vs actual counts for one category.
// Coverage is an integer percentage, rounded down; a category with zero
// expected entries is vacuously 100.
type CoverageStats struct {
	Expected int `json:"expected"`
	Actual   int `json:"actual"`
	Coverage int `json:"coverage"`
}

// Coverage category keys.
const (
	CategoryOverall  = "overall"
	CategoryClusters = "clusters"
	CategoryBrokers  = "brokers"
	CategoryTopics   = "topics"
	CategoryQueues   = "queues"
)

// GapReport is the output of one reconciliation pass.
type GapReport struct {
	MissingEntities []MissingEntity          `json:"missingEntities"`
	CoverageReport  map[string]CoverageStats `json:"coverageReport"`
}

// BatchFailure records one batch that could not be delivered.
type BatchFailure struct {
	BatchIndex int    `json:"batchIndex"`
	Items      int    `json:"items"`
	Reason     string `json:"reason"`
	Retryable  bool   `json:"retryable"`
}

// SubmitResult reports the outcome of one delivery submission. Failures is
// always a non-nil list of the unrecoverable (or caller-retryable) batches.
type SubmitResult struct {
	Accepted int            `json:"accepted"`
	Failed   int            `json:"failed"`
	Failures []BatchFailure `json:"failures"`
}
