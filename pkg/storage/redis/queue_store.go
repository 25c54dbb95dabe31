package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cmdworker/pkg/models"
)

// Default stream and group names. The platform publishes command-line jobs
// on the pending stream and consumes results from the completed stream.
const (
	DefaultJobStream    = "jobs:cmdline:pending"
	DefaultResultStream = "jobs:cmdline:completed"
)

type RedisQueue struct {
	client       *redis.Client
	jobStream    string
	resultStream string
}

// RedisQueueConfig holds Redis connection configuration.
type RedisQueueConfig struct {
	Addr         string
	JobStream    string
	ResultStream string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultRedisQueueConfig returns production defaults for the given address.
func DefaultRedisQueueConfig(addr string) RedisQueueConfig {
	return RedisQueueConfig{
		Addr:         addr,
		JobStream:    DefaultJobStream,
		ResultStream: DefaultResultStream,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// NewRedisQueue initializes a new Redis client with default config.
func NewRedisQueue(addr string) (*RedisQueue, error) {
	return NewRedisQueueWithConfig(DefaultRedisQueueConfig(addr))
}

// NewRedisQueueWithConfig initializes a new Redis client with custom config.
func NewRedisQueueWithConfig(cfg RedisQueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	jobStream := cfg.JobStream
	if jobStream == "" {
		jobStream = DefaultJobStream
	}
	resultStream := cfg.ResultStream
	if resultStream == "" {
		resultStream = DefaultResultStream
	}

	return &RedisQueue{
		client:       client,
		jobStream:    jobStream,
		resultStream: resultStream,
	}, nil
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Push adds a job message to the pending stream. The worker itself never
// pushes jobs; this is how the platform (and tests) enqueue work.
func (r *RedisQueue) Push(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.jobStream,
		Values: map[string]interface{}{
			"payload": payload,
			"job_id":  strconv.FormatInt(job.JobID, 10),
		},
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to push to queue: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (r *RedisQueue) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.jobStream, group, "$").Err()
	if err != nil {
		if err.Error() == "BUSYGROUP Consumer Group name already exists" {
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Pop retrieves a job from the pending stream for a specific consumer.
func (r *RedisQueue) Pop(ctx context.Context, group string, consumer string) (string, *models.Job, error) {
	// Block for 2 seconds waiting for new messages.
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.jobStream, ">"},
		Count:    1,
		Block:    2 * time.Second,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return "", nil, nil // Timeout, no jobs
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	msg := streams[0].Messages[0]

	payloadStr, ok := msg.Values["payload"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("message %s has no payload field", msg.ID)
	}

	job, err := models.ParseJob([]byte(payloadStr))
	if err != nil {
		return msg.ID, nil, err
	}

	return msg.ID, job, nil
}

// Ack acknowledges a job message as processed.
func (r *RedisQueue) Ack(ctx context.Context, group string, msgID string) error {
	return r.client.XAck(ctx, r.jobStream, group, msgID).Err()
}

// PublishResult reports a job result on the completed stream.
func (r *RedisQueue) PublishResult(ctx context.Context, result *models.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.resultStream,
		Values: map[string]interface{}{
			"payload": payload,
			"job_id":  strconv.FormatInt(result.JobID, 10),
			"status":  string(result.Status),
		},
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// ReadResult fetches a published result by job ID, scanning the completed
// stream from the beginning. Intended for tests and tooling.
func (r *RedisQueue) ReadResult(ctx context.Context, jobID int64) (*models.JobResult, error) {
	msgs, err := r.client.XRange(ctx, r.resultStream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read result stream: %w", err)
	}

	want := strconv.FormatInt(jobID, 10)
	for _, msg := range msgs {
		if msg.Values["job_id"] != want {
			continue
		}
		payloadStr, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var result models.JobResult
		if err := json.Unmarshal([]byte(payloadStr), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return &result, nil
	}
	return nil, fmt.Errorf("no result for job %d", jobID)
}
