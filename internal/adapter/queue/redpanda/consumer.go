package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// TaskHandler processes one decoded work item. The handler owns the task's
// terminal state; *usecase.Processor satisfies this.
type TaskHandler interface {
	Handle(ctx domain.Context, payload domain.FetchTaskPayload) error
}

// Consumer is a group consumer that feeds the worker strictly one record at
// a time. Offsets are committed per record after processing, so a worker
// crash mid-task redelivers the item to another group member.
type Consumer struct {
	client  *kgo.Client
	handler TaskHandler
	groupID string
	topic   string
}

// NewConsumer constructs a Consumer on the default topic.
func NewConsumer(brokers []string, groupID string, handler TaskHandler) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, handler, TopicFetchTasks)
}

// NewConsumerWithTopic constructs a Consumer on a specific topic. Tests use
// distinct topics for isolation.
func NewConsumerWithTopic(brokers []string, groupID string, handler TaskHandler, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: missing group id")
	}
	slog.Info("creating queue consumer",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic))

	// The topic must exist before the group subscribes, or the first poll
	// sits on UNKNOWN_TOPIC errors until the server side creates it.
	admin, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: admin client: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), admin, topic, 1, 1); err != nil {
		slog.Warn("topic create failed, assuming it exists",
			slog.String("topic", topic), slog.Any("error", err))
	}
	admin.Close()

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		// Records come from a transactional producer.
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DisableAutoCommit(),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: client: %w", err)
	}

	return &Consumer{client: client, handler: handler, groupID: groupID, topic: topic}, nil
}

// Run polls and processes records until ctx is cancelled or the client is
// closed. One record is in flight at any moment.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("consumer started",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic))

	for {
		fetches := c.client.PollRecords(ctx, 1)
		if fetches.IsClientClosed() {
			slog.Info("consumer client closed")
			return nil
		}
		if err := ctx.Err(); err != nil {
			slog.Info("consumer stopping", slog.Any("reason", err))
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			fatal := false
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					fatal = true
					continue
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			if fatal {
				return context.Canceled
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			c.processRecord(ctx, record)
			if err := c.client.CommitRecords(ctx, record); err != nil {
				// The record may be redelivered; terminal writes are
				// guarded, so a replay cannot reopen a finished task.
				slog.Error("offset commit failed",
					slog.String("topic", record.Topic),
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
			}
		})
	}
}

// processRecord decodes and executes one work item. Malformed records are
// dropped after logging; there is nothing a redelivery would fix.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessFetchTask")
	defer span.End()

	var payload domain.FetchTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		slog.Error("dropping malformed record",
			slog.String("topic", record.Topic),
			slog.Int("partition", int(record.Partition)),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return
	}

	lg := slog.With(
		slog.String("task_id", payload.TaskID),
		slog.String("platform", string(payload.Platform)),
		slog.String("action", string(payload.Action)),
		slog.String("message_id", headerValue(record, "message_id")),
		slog.Int64("offset", record.Offset),
	)
	lg.Info("work item received")

	if err := c.handler.Handle(ctx, payload); err != nil {
		// The handler persisted what it could; this is for the log only.
		lg.Error("work item failed", slog.Any("error", err))
		return
	}
	lg.Info("work item done")
}

func headerValue(record *kgo.Record, key string) string {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Ping verifies broker connectivity, for readiness probes.
func (c *Consumer) Ping(ctx domain.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("op=redpanda.Ping: consumer not initialized")
	}
	return c.client.Ping(ctx)
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
