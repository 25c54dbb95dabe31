package redis_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"cmdworker/pkg/models"
	"cmdworker/pkg/storage/redis"
)

// QueueSuite exercises the stream transport against a real Redis. Streams
// get unique names per run so repeated runs do not see each other.
type QueueSuite struct {
	suite.Suite
	queue        *redis.RedisQueue
	cleanup      *goredis.Client
	jobStream    string
	resultStream string
}

func (s *QueueSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	addr := fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	)

	cfg := redis.DefaultRedisQueueConfig(addr)
	suffix := time.Now().UnixNano()
	cfg.JobStream = fmt.Sprintf("test:jobs:pending:%d", suffix)
	cfg.ResultStream = fmt.Sprintf("test:jobs:completed:%d", suffix)
	s.jobStream = cfg.JobStream
	s.resultStream = cfg.ResultStream

	queue, err := redis.NewRedisQueueWithConfig(cfg)
	if err != nil {
		s.T().Skipf("Skipping redis tests: %v", err)
	}
	s.queue = queue
	s.cleanup = goredis.NewClient(&goredis.Options{Addr: addr})
}

func (s *QueueSuite) TearDownSuite() {
	if s.cleanup != nil {
		s.cleanup.Del(context.Background(), s.jobStream, s.resultStream)
		s.cleanup.Close()
	}
	if s.queue != nil {
		s.queue.Close()
	}
}

func (s *QueueSuite) TestPushPopAck() {
	ctx := context.Background()
	group := "test-group"

	require.NoError(s.T(), s.queue.EnsureGroup(ctx, group))
	require.NoError(s.T(), s.queue.EnsureGroup(ctx, group), "recreating the group must be a no-op")

	job := &models.Job{
		JobID: 123,
		Parameters: []models.Parameter{
			{ID: models.ParamCommandTemplate, Type: models.ParamTypeString, Value: json.RawMessage(`"ls {path}"`)},
			{ID: "path", Type: models.ParamTypeString, Value: json.RawMessage(`"."`)},
		},
	}
	require.NoError(s.T(), s.queue.Push(ctx, job))

	msgID, popped, err := s.queue.Pop(ctx, group, "consumer-1")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), popped)
	s.NotEmpty(msgID)
	s.Equal(int64(123), popped.JobID)
	s.Len(popped.Parameters, 2)

	s.NoError(s.queue.Ack(ctx, group, msgID))
}

func (s *QueueSuite) TestPopTimesOutQuietly() {
	ctx := context.Background()
	require.NoError(s.T(), s.queue.EnsureGroup(ctx, "idle-group"))

	msgID, job, err := s.queue.Pop(ctx, "idle-group", "consumer-1")
	s.NoError(err)
	s.Nil(job)
	s.Empty(msgID)
}

func (s *QueueSuite) TestPublishAndReadResult() {
	ctx := context.Background()

	result := models.NewJobResult(456).Complete("total 0\n")
	result.OutputURI = "s3://bucket/outputs/456.log"
	require.NoError(s.T(), s.queue.PublishResult(ctx, result))

	got, err := s.queue.ReadResult(ctx, 456)
	require.NoError(s.T(), err)
	s.Equal(int64(456), got.JobID)
	s.Equal(models.JobStatusCompleted, got.Status)
	s.Equal("total 0\n", got.Message)
	s.Equal("s3://bucket/outputs/456.log", got.OutputURI)
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
