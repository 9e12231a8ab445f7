package kafka

import (
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	"github.com/drblury/eventport/transport"
)

const partitionKeyMetadata = "partition_key"

// newProducerConfig returns the sarama config used by the Watermill
// publisher.
func newProducerConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	cfg.ClientID = clientID
	cfg.Producer.Retry.Max = metadataRetryMax
	cfg.Metadata.Retry.Max = metadataRetryMax
	return cfg
}

// newConsumerConfig returns the consumer group config: start from the
// oldest offset for new groups, commit manually, and give up on metadata
// after a bounded number of retries.
func newConsumerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true
	cfg.Metadata.Retry.Max = metadataRetryMax
	return cfg
}

// partitionKey keeps events about the same subject on one partition.
func partitionKey(evt cloudevents.Event) string {
	if evt.Subject != "" {
		return evt.Subject
	}
	return evt.ID
}

func metadataPartitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(partitionKeyMetadata), nil
}

func joinBrokers(brokers []string) string {
	return strings.Join(brokers, ",")
}

func topicNames(sub transport.Subscription) []string {
	names := make([]string, 0, len(sub.Topics))
	for _, t := range sub.Topics {
		names = append(names, t.String())
	}
	return names
}
