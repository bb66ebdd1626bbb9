package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

const (
	// Default consumer group name.
	defaultConsumerGroup = "harvester-workers"

	// Default block timeout for reading from streams.
	defaultBlockTimeout = 5 * time.Second

	// Default count of messages to read per batch.
	defaultBatchSize = 10

	// Default minimum idle time before claiming pending messages. It must
	// exceed the longest crawl, or a live unit is handed to a second worker.
	defaultClaimMinIdle = 10 * time.Minute

	// Maximum pending messages to check at once.
	maxPendingCheck = 100
)

// Consumer reads work units from the priority streams through a consumer group.
type Consumer struct {
	streams       Streams
	prefix        string
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
	claimMinIdle  time.Duration
	logger        logger.Logger
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Prefix        string
	ConsumerGroup string        // Consumer group name
	ConsumerID    string        // Unique consumer identifier
	BlockTimeout  time.Duration // Block timeout for reads (0 = default)
	BatchSize     int64         // Number of messages per read (0 = default)
	ClaimMinIdle  time.Duration // Min idle time before claiming (0 = default)
	Logger        logger.Logger
}

// NewConsumer creates a new work-unit consumer.
func NewConsumer(streams Streams, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}

	c := &Consumer{
		streams:       streams,
		prefix:        cfg.Prefix,
		consumerGroup: cfg.ConsumerGroup,
		consumerID:    cfg.ConsumerID,
		blockTimeout:  cfg.BlockTimeout,
		batchSize:     cfg.BatchSize,
		claimMinIdle:  cfg.ClaimMinIdle,
		logger:        cfg.Logger,
	}
	if c.consumerGroup == "" {
		c.consumerGroup = defaultConsumerGroup
	}
	if c.blockTimeout <= 0 {
		c.blockTimeout = defaultBlockTimeout
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.claimMinIdle <= 0 {
		c.claimMinIdle = defaultClaimMinIdle
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	return c, nil
}

// Initialize creates the consumer group on every priority stream.
func (c *Consumer) Initialize(ctx context.Context) error {
	for _, priority := range AllPriorities() {
		stream := StreamName(c.prefix, priority)
		if err := c.streams.CreateConsumerGroup(ctx, stream, c.consumerGroup); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}
	return nil
}

// Read returns reclaimed stale deliveries when there are any, and otherwise
// new messages, high priority first.
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	if reclaimed := c.reclaimPending(ctx); len(reclaimed) > 0 {
		return reclaimed, nil
	}
	return c.readNewMessages(ctx)
}

func (c *Consumer) readNewMessages(ctx context.Context) ([]*Delivery, error) {
	priorities := AllPriorities()
	lanes := make(map[string]Priority, len(priorities))
	streams := make([]string, 0, 2*len(priorities))
	for _, priority := range priorities {
		name := StreamName(c.prefix, priority)
		lanes[name] = priority
		streams = append(streams, name)
	}
	for range priorities {
		streams = append(streams, ">")
	}

	result, err := c.streams.XReadGroup(ctx, c.consumerGroup, c.consumerID, streams, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from streams: %w", err)
	}

	var deliveries []*Delivery
	for _, stream := range result {
		for _, msg := range stream.Messages {
			if d := c.parseMessage(ctx, stream.Stream, lanes[stream.Stream], msg); d != nil {
				deliveries = append(deliveries, d)
			}
		}
	}
	sort.SliceStable(deliveries, func(i, j int) bool { return deliveries[i].Priority < deliveries[j].Priority })
	return deliveries, nil
}

// reclaimPending claims messages other consumers left unacknowledged for
// longer than claimMinIdle.
func (c *Consumer) reclaimPending(ctx context.Context) []*Delivery {
	var reclaimed []*Delivery

	for _, priority := range AllPriorities() {
		stream := StreamName(c.prefix, priority)

		pending, err := c.streams.XPendingExt(ctx, stream, c.consumerGroup, maxPendingCheck)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.logger.Warn("Failed to list pending units", logger.String("stream", stream), logger.Error(err))
			}
			continue
		}

		var ids []string
		for _, entry := range pending {
			if entry.Idle >= c.claimMinIdle {
				ids = append(ids, entry.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		claimed, claimErr := c.streams.XClaim(ctx, stream, c.consumerGroup, c.consumerID, c.claimMinIdle, ids...)
		if claimErr != nil {
			c.logger.Warn("Failed to claim pending units", logger.String("stream", stream), logger.Error(claimErr))
			continue
		}

		for _, msg := range claimed {
			if d := c.parseMessage(ctx, stream, priority, msg); d != nil {
				reclaimed = append(reclaimed, d)
			}
		}
		if len(claimed) > 0 {
			c.logger.Info("Reclaimed stale units", logger.String("stream", stream), logger.Int("count", len(claimed)))
		}
	}

	return reclaimed
}

// parseMessage decodes msg. Malformed messages are acknowledged and dropped,
// since no redelivery can fix them.
func (c *Consumer) parseMessage(ctx context.Context, stream string, priority Priority, msg redis.XMessage) *Delivery {
	raw, _ := msg.Values[UnitField].(string)
	m, err := decodeUnit([]byte(raw))
	if err != nil {
		c.logger.Error("Dropping malformed unit",
			logger.String("stream", stream),
			logger.String("message_id", msg.ID),
			logger.Error(err),
		)
		if ackErr := c.streams.XAck(ctx, stream, c.consumerGroup, msg.ID); ackErr != nil {
			c.logger.Warn("Failed to ack malformed unit", logger.Error(ackErr))
		}
		return nil
	}

	id := msg.ID
	return &Delivery{
		ID:         id,
		Unit:       m.unit(),
		Priority:   priority,
		EnqueuedAt: m.EnqueuedAt,
		ack: func(ctx context.Context) error {
			return c.streams.XAck(ctx, stream, c.consumerGroup, id)
		},
	}
}

// ConsumerGroup returns the consumer group name.
func (c *Consumer) ConsumerGroup() string {
	return c.consumerGroup
}

// ConsumerID returns the consumer ID.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}

// RedisQueue is a Queue over Redis Streams.
type RedisQueue struct {
	*Producer
	*Consumer
	closer io.Closer
}

// NewRedisQueue pairs a producer and a consumer on the same streams. closer,
// when non-nil, is closed by Close.
func NewRedisQueue(producer *Producer, consumer *Consumer, closer io.Closer) *RedisQueue {
	return &RedisQueue{Producer: producer, Consumer: consumer, closer: closer}
}

// Close closes the Redis connection when the queue owns it.
func (q *RedisQueue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer.Close()
}
