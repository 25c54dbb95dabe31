package storage

import (
	"context"
	"errors"

	"cmdworker/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

// JobQueue is the transport between the platform and workers. Jobs are
// consumed through a consumer group; results travel back on a separate
// stream. The queue carries no retry or redelivery policy of its own.
type JobQueue interface {
	// EnsureGroup creates the consumer group if it does not exist yet.
	EnsureGroup(ctx context.Context, group string) error

	// Pop retrieves one job for the given group and consumer, blocking
	// briefly when the queue is empty. It returns a nil job on timeout.
	// A non-nil message ID alongside an error identifies an undecodable
	// message that the caller may acknowledge to discard.
	Pop(ctx context.Context, group string, consumer string) (string, *models.Job, error)

	// Ack acknowledges a consumed message.
	Ack(ctx context.Context, group string, msgID string) error

	// PublishResult reports a finished job back to the platform.
	PublishResult(ctx context.Context, result *models.JobResult) error
}

// LogStore archives full command output beyond the capped result message.
type LogStore interface {
	// Store saves the output and returns a reference URI.
	Store(ctx context.Context, jobID int64, output []byte) (string, error)
	// Retrieve fetches output by reference.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}
