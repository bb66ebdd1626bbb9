package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

// QueueComponents holds the execution substrate.
type QueueComponents struct {
	Queue queue.Queue
	// Depths is nil for backends that cannot report lane depth.
	Depths metrics.DepthSource
	// Ping is nil for backends without a cheap liveness check.
	Ping func(ctx context.Context) error
	// Redis is set for the Redis Streams backend.
	Redis redis.UniversalClient
}

// SetupQueue connects the backend named by cfg.Queue.Backend.
func SetupQueue(ctx context.Context, cfg *config.Config, log logger.Logger) (*QueueComponents, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendKafka:
		return setupKafkaQueue(cfg.Queue, log)
	default:
		return setupRedisQueue(ctx, cfg, log)
	}
}

func setupRedisQueue(ctx context.Context, cfg *config.Config, log logger.Logger) (*QueueComponents, error) {
	streams, err := queue.NewStreamsClient(queue.StreamsConfig{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	producer := queue.NewProducer(streams, queue.ProducerConfig{Prefix: cfg.Queue.StreamPrefix})
	consumer, err := queue.NewConsumer(streams, queue.ConsumerConfig{
		Prefix:        cfg.Queue.StreamPrefix,
		ConsumerGroup: cfg.Queue.Group,
		ConsumerID:    cfg.Queue.Consumer,
		BlockTimeout:  cfg.Queue.BlockTimeout,
		BatchSize:     cfg.Queue.BatchSize,
		ClaimMinIdle:  cfg.Queue.ClaimIdle,
		Logger:        log,
	})
	if err != nil {
		_ = streams.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	if initErr := consumer.Initialize(ctx); initErr != nil {
		_ = streams.Close()
		return nil, initErr
	}

	log.Info("Redis Streams queue ready",
		logger.String("address", cfg.Redis.Address),
		logger.String("prefix", cfg.Queue.StreamPrefix),
		logger.String("group", cfg.Queue.Group),
	)
	return &QueueComponents{
		Queue:  queue.NewRedisQueue(producer, consumer, streams),
		Depths: producer,
		Ping:   streams.Ping,
		Redis:  streams.Redis(),
	}, nil
}

func setupKafkaQueue(cfg config.QueueConfig, log logger.Logger) (*QueueComponents, error) {
	q, err := queue.NewKafkaQueue(queue.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.Group,
		Poll:    cfg.BlockTimeout,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka queue: %w", err)
	}

	log.Info("Kafka queue ready",
		logger.Strings("brokers", cfg.KafkaBrokers),
		logger.String("topic", cfg.KafkaTopic),
	)
	return &QueueComponents{Queue: q}, nil
}
