// Package queue adapts the Redis Streams ingress (spec.md §5's "ingress"
// step) to the scoring package's TransactionSource boundary, and provides a
// generic Redis cache client (on its own connection) for the analytics
// service and kafka-worker. Grounded on the teacher's internal/queue/redis_stream.go
// almost directly; only the payload shape and the consumer contract changed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/scoring"
)

// RedisStreamClient handles Redis Streams operations for the transaction
// ingress stream, satisfying scoring.TransactionSource.
type RedisStreamClient struct {
	client           *redis.Client
	streamName       string
	consumerGroup    string
	deadLetterStream string
	maxRetries       int
}

// NewRedisStreamClient creates a new Redis stream client and ensures the
// consumer group exists.
func NewRedisStreamClient(cfg config.RedisConfig, deadLetterStream string) (*RedisStreamClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rsc := &RedisStreamClient{
		client:           client,
		streamName:       cfg.StreamName,
		consumerGroup:    cfg.ConsumerGroup,
		deadLetterStream: deadLetterStream,
		maxRetries:       cfg.MaxRetries,
	}

	if err := rsc.createConsumerGroup(ctx); err != nil {
		log.Warn().Err(err).Msg("consumer group may already exist")
	}

	log.Info().Str("stream", cfg.StreamName).Msg("redis stream client initialized")
	return rsc, nil
}

func (r *RedisStreamClient) createConsumerGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.streamName, r.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish appends one transaction to the ingress stream.
func (r *RedisStreamClient) Publish(ctx context.Context, txn models.Transaction) (string, error) {
	payload, err := json.Marshal(txn)
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}

	msgID, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		Values: map[string]interface{}{"data": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish transaction: %w", err)
	}

	log.Debug().Str("message_id", msgID).Str("txn_id", txn.TxnID).Msg("transaction published to stream")
	return msgID, nil
}

// Consume implements scoring.TransactionSource: it first reclaims messages
// abandoned by a dead consumer, then reads new ones, up to batchSize.
func (r *RedisStreamClient) Consume(ctx context.Context, consumerName string, batchSize int64, pollInterval time.Duration) ([]scoring.QueuedTransaction, error) {
	claimed, err := r.claimPending(ctx, consumerName, batchSize)
	if err != nil {
		log.Warn().Err(err).Msg("failed to claim pending messages")
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.consumerGroup,
		Consumer: consumerName,
		Streams:  []string{r.streamName, ">"},
		Count:    batchSize,
		Block:    pollInterval,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read from stream: %w", err)
	}

	var out []scoring.QueuedTransaction
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			txn, err := parseMessage(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to parse stream message")
				continue
			}
			out = append(out, scoring.QueuedTransaction{ID: msg.ID, Txn: *txn})
		}
	}
	return out, nil
}

func (r *RedisStreamClient) claimPending(ctx context.Context, consumerName string, count int64) ([]scoring.QueuedTransaction, error) {
	minIdle := 30 * time.Second

	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.streamName,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.streamName,
		Group:    r.consumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []scoring.QueuedTransaction
	for _, msg := range claimed {
		txn, err := parseMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to parse claimed message")
			continue
		}
		out = append(out, scoring.QueuedTransaction{ID: msg.ID, Txn: *txn})
	}
	return out, nil
}

func parseMessage(msg redis.XMessage) (*models.Transaction, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format")
	}
	var txn models.Transaction
	if err := json.Unmarshal([]byte(data), &txn); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &txn, nil
}

// Acknowledge implements scoring.TransactionSource.
func (r *RedisStreamClient) Acknowledge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.streamName, r.consumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("acknowledge messages: %w", err)
	}
	return nil
}

// Requeue implements scoring.TransactionSource by re-publishing the
// transaction and acknowledging the original delivery, so a retried
// transaction never holds a pending-entry slot open.
func (r *RedisStreamClient) Requeue(ctx context.Context, qt scoring.QueuedTransaction) error {
	if _, err := r.Publish(ctx, qt.Txn); err != nil {
		return fmt.Errorf("requeue transaction %s: %w", qt.Txn.TxnID, err)
	}
	return r.Acknowledge(ctx, []string{qt.ID})
}

// DeadLetter implements scoring.TransactionSource.
func (r *RedisStreamClient) DeadLetter(ctx context.Context, qt scoring.QueuedTransaction, cause error) error {
	payload, _ := json.Marshal(qt.Txn)
	if _, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.deadLetterStream,
		Values: map[string]interface{}{"data": string(payload), "error": cause.Error()},
	}).Result(); err != nil {
		return fmt.Errorf("send to dead letter: %w", err)
	}
	log.Warn().Str("txn_id", qt.Txn.TxnID).Err(cause).Msg("transaction sent to dead letter queue")
	return r.Acknowledge(ctx, []string{qt.ID})
}

// GetPendingCount returns the number of unacknowledged messages, used by the
// operational-status endpoint.
func (r *RedisStreamClient) GetPendingCount(ctx context.Context) (int64, error) {
	pending, err := r.client.XPending(ctx, r.streamName, r.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Close closes the underlying Redis connection.
func (r *RedisStreamClient) Close() error {
	return r.client.Close()
}

// CacheClient provides generic Redis operations, used by internal/analytics
// and cmd/kafka-worker.
type CacheClient struct {
	client *redis.Client
}

// NewCacheClient creates a cache client over the same Redis URL.
func NewCacheClient(cfg config.RedisConfig) (*CacheClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{client: client}, nil
}

// Set sets a value in the cache.
func (c *CacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value from the cache.
func (c *CacheClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys from the cache.
func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// Increment increments a counter key.
func (c *CacheClient) Increment(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// HIncrBy increments a hash field by a given amount.
func (c *CacheClient) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return c.client.HIncrBy(ctx, key, field, incr).Result()
}

// HGetAll gets all fields from a hash.
func (c *CacheClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

// SAdd adds members to a set.
func (c *CacheClient) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.client.SAdd(ctx, key, members...).Err()
}

// SCard returns the cardinality of a set.
func (c *CacheClient) SCard(ctx context.Context, key string) (int64, error) {
	return c.client.SCard(ctx, key).Result()
}

// Expire sets a key's TTL.
func (c *CacheClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

// Close closes the cache client.
func (c *CacheClient) Close() error {
	return c.client.Close()
}
