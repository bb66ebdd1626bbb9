package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

const (
	// UnitField is the stream message field holding the encoded work unit.
	UnitField = "unit"

	// Default max stream length to prevent unbounded growth.
	defaultMaxStreamLen = 10000
)

// Producer enqueues work units onto the priority streams.
type Producer struct {
	streams      Streams
	prefix       string
	maxStreamLen int64
	now          func() time.Time
}

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	Prefix       string
	MaxStreamLen int64 // Maximum stream length (0 = default)
}

// NewProducer creates a new work-unit producer.
func NewProducer(streams Streams, cfg ProducerConfig) *Producer {
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}

	return &Producer{
		streams:      streams,
		prefix:       cfg.Prefix,
		maxStreamLen: maxLen,
		now:          time.Now,
	}
}

// Enqueue adds unit to the stream of its job priority and returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, unit domain.WorkUnit, priority int) (string, error) {
	lane := FromJobPriority(priority)
	data, err := encodeUnit(unit, lane, p.now())
	if err != nil {
		return "", err
	}

	stream := StreamName(p.prefix, lane)
	messageID, addErr := p.streams.XAdd(ctx, stream, p.maxStreamLen, map[string]any{UnitField: string(data)})
	if addErr != nil {
		return "", fmt.Errorf("failed to enqueue unit to stream %s: %w", stream, addErr)
	}

	return messageID, nil
}

// QueueDepths returns the stream length of every lane.
func (p *Producer) QueueDepths(ctx context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(AllPriorities()))

	for _, priority := range AllPriorities() {
		depth, err := p.streams.XLen(ctx, StreamName(p.prefix, priority))
		if err != nil {
			return depths, fmt.Errorf("failed to get depth for %s: %w", priority.String(), err)
		}
		depths[priority] = depth
	}

	return depths, nil
}
