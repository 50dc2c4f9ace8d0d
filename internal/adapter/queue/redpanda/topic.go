package redpanda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// createTopicIfNotExists creates a topic through the Kafka admin API and
// treats "already exists" as success, so producer and consumer can both
// ensure the topic at startup without coordination.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("partitions must be greater than 0")
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("replication factor must be greater than 0")
	}

	spec := kmsg.NewCreateTopicsRequestTopic()
	spec.Topic = topic
	spec.NumPartitions = partitions
	spec.ReplicationFactor = replicationFactor

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = int32((30 * time.Second).Milliseconds())
	req.Topics = append(req.Topics, spec)

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	for _, tr := range resp.Topics {
		if err := kerr.ErrorForCode(tr.ErrorCode); err != nil {
			if errors.Is(err, kerr.TopicAlreadyExists) {
				return nil
			}
			return fmt.Errorf("create topic %q: %w", tr.Topic, err)
		}
		slog.Info("topic created",
			slog.String("topic", tr.Topic),
			slog.Int("partitions", int(partitions)))
	}
	return nil
}
