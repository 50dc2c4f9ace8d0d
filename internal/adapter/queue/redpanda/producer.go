// Package redpanda moves fetch tasks through a Redpanda/Kafka topic.
//
// Publishing is transactional so an accepted task is enqueued exactly once;
// the consumer is a group consumer that hands the worker one record at a
// time and commits after each, giving at-least-once processing end to end.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// TopicFetchTasks is the default topic carrying fetch work items.
const TopicFetchTasks = "fetch-tasks"

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// transactionChan serializes transactions; kgo allows one per producer.
	transactionChan chan struct{}
}

// NewProducer constructs a Producer on the default topic.
func NewProducer(brokers []string, transactionalID string) (*Producer, error) {
	return NewProducerWithTopic(brokers, transactionalID, TopicFetchTasks)
}

// NewProducerWithTopic constructs a Producer publishing to a specific topic.
// Tests use distinct topics for isolation.
func NewProducerWithTopic(brokers []string, transactionalID, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	slog.Info("creating queue producer",
		slog.Any("brokers", brokers),
		slog.String("transactional_id", transactionalID),
		slog.String("topic", topic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, 1, 1); err != nil {
		// The broker may have it already, or another instance races us there.
		slog.Warn("topic create failed, assuming it exists",
			slog.String("topic", topic), slog.Any("error", err))
	}

	return &Producer{
		client:          client,
		topic:           topic,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// Enqueue publishes one work item inside a producer transaction.
func (p *Producer) Enqueue(ctx domain.Context, payload domain.FetchTaskPayload) error {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=redpanda.Enqueue: marshal: %w", err)
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=redpanda.Enqueue: begin transaction: %w", err)
	}

	// task_id names the work; message_id names this publish, so a
	// redelivered record is tellable apart from a second submission.
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(payload.TaskID), // partition by task id
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "task_id", Value: []byte(payload.TaskID)},
			{Key: "platform", Value: []byte(payload.Platform)},
			{Key: "action", Value: []byte(payload.Action)},
			{Key: "message_id", Value: []byte(uuid.NewString())},
		},
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("transaction abort failed", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=redpanda.Enqueue: produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=redpanda.Enqueue: commit transaction: %w", err)
	}

	slog.Info("work item published",
		slog.String("task_id", payload.TaskID),
		slog.String("topic", p.topic))
	return nil
}

// Ping verifies broker connectivity, for readiness probes.
func (p *Producer) Ping(ctx domain.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("op=redpanda.Ping: producer not initialized")
	}
	return p.client.Ping(ctx)
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
