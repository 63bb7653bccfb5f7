package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
)

type Consumer struct {
	client       *redis.Client
	cfg          *config.Config
	blockTimeout time.Duration
	log          zerolog.Logger
}

type MessageHandler func(ctx context.Context, data []byte) error

func NewConsumer(redisClient *RedisClient, cfg *config.Config) *Consumer {
	return &Consumer{
		client:       redisClient.Client(),
		cfg:          cfg,
		blockTimeout: 5 * time.Second,
		log:          logger.Component("queue"),
	}
}

func (c *Consumer) ConsumeProcessQueue(ctx context.Context, handler MessageHandler) error {
	return c.consume(ctx, c.cfg.Redis.ProcessQueue, handler)
}

func (c *Consumer) ConsumeImportQueue(ctx context.Context, handler MessageHandler) error {
	return c.consume(ctx, c.cfg.Redis.ImportQueue, handler)
}

// DeadLetters returns the raw messages parked in the DLQ of queueName.
func (c *Consumer) DeadLetters(ctx context.Context, queueName string) ([]string, error) {
	return c.client.LRange(ctx, queueName+c.cfg.Redis.DLQSuffix, 0, -1).Result()
}

func (c *Consumer) consume(ctx context.Context, queueName string, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			result, err := c.client.BRPop(ctx, c.blockTimeout, queueName).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				c.log.Error().Err(err).Str("queue", queueName).Msg("Failed to consume message")
				continue
			}

			if len(result) < 2 {
				continue
			}

			message := result[1]
			if err := handler(ctx, []byte(message)); err != nil {
				c.log.Error().Err(err).Str("queue", queueName).Msg("Failed to process message")
				dlqName := queueName + c.cfg.Redis.DLQSuffix
				// The message is parked even when shutdown has started.
				if dlqErr := c.client.LPush(context.WithoutCancel(ctx), dlqName, message).Err(); dlqErr != nil {
					c.log.Error().Err(dlqErr).Str("dlq", dlqName).Msg("Failed to move message to DLQ")
				}
			}
		}
	}
}
