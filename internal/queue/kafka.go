package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

const (
	priorityHeader = "priority"

	// defaultKafkaPoll bounds one Read so callers can observe shutdown.
	defaultKafkaPoll = 5 * time.Second
)

// MessageWriter is the producing half of a kafka-go client.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the consuming half of a kafka-go consumer-group reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures NewKafkaQueue.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Poll bounds how long Read waits for a message.
	Poll   time.Duration
	Logger logger.Logger
}

// KafkaQueue is a Queue over one Kafka topic. Kafka has no priority lanes:
// the lane travels as a header and ordering is per partition.
type KafkaQueue struct {
	writer MessageWriter
	reader MessageReader
	topic  string
	poll   time.Duration
	logger logger.Logger
	now    func() time.Time
}

// NewKafkaQueue builds a queue on kafka-go's writer and consumer-group reader.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka queue needs brokers and a topic")
	}
	group := cfg.GroupID
	if group == "" {
		group = defaultConsumerGroup
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: group,
	})
	return NewKafkaQueueWithClients(writer, reader, cfg), nil
}

// NewKafkaQueueWithClients builds a queue on caller-supplied clients (tests).
func NewKafkaQueueWithClients(writer MessageWriter, reader MessageReader, cfg KafkaConfig) *KafkaQueue {
	q := &KafkaQueue{
		writer: writer,
		reader: reader,
		topic:  cfg.Topic,
		poll:   cfg.Poll,
		logger: cfg.Logger,
		now:    time.Now,
	}
	if q.poll <= 0 {
		q.poll = defaultKafkaPoll
	}
	if q.logger == nil {
		q.logger = logger.NewNop()
	}
	return q
}

// Enqueue writes unit keyed by job ID, so a job's units share a partition.
// The returned handle is a generated message key.
func (q *KafkaQueue) Enqueue(ctx context.Context, unit domain.WorkUnit, priority int) (string, error) {
	lane := FromJobPriority(priority)
	data, err := encodeUnit(unit, lane, q.now())
	if err != nil {
		return "", err
	}

	handle := "kafka:" + uuid.NewString()
	msg := kafka.Message{
		Key:   []byte(unit.JobID),
		Value: data,
		Time:  q.now().UTC(),
		Headers: []kafka.Header{
			{Key: priorityHeader, Value: []byte(lane.String())},
			{Key: "handle", Value: []byte(handle)},
		},
	}
	if writeErr := q.writer.WriteMessages(ctx, msg); writeErr != nil {
		return "", fmt.Errorf("failed to enqueue unit to topic %s: %w", q.topic, writeErr)
	}
	return handle, nil
}

// Read fetches one message. It returns no deliveries when the poll interval
// passes without one.
func (q *KafkaQueue) Read(ctx context.Context) ([]*Delivery, error) {
	for {
		pollCtx, cancel := context.WithTimeout(ctx, q.poll)
		msg, err := q.reader.FetchMessage(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to fetch from topic %s: %w", q.topic, err)
		}

		m, decodeErr := decodeUnit(msg.Value)
		if decodeErr != nil {
			q.logger.Error("Dropping malformed unit",
				logger.Int("partition", msg.Partition),
				logger.Int64("offset", msg.Offset),
				logger.Error(decodeErr),
			)
			if commitErr := q.reader.CommitMessages(ctx, msg); commitErr != nil {
				return nil, fmt.Errorf("failed to commit malformed message: %w", commitErr)
			}
			continue
		}

		return []*Delivery{{
			ID:         fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
			Unit:       m.unit(),
			Priority:   ParsePriority(headerValue(msg.Headers, priorityHeader)),
			EnqueuedAt: m.EnqueuedAt,
			ack: func(ctx context.Context) error {
				return q.reader.CommitMessages(ctx, msg)
			},
		}}, nil
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close closes the writer and the reader.
func (q *KafkaQueue) Close() error {
	return errors.Join(q.writer.Close(), q.reader.Close())
}
