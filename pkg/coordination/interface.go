package coordination

import (
	"context"
)

// Coordinator exposes the worker's view of the cluster registry. Workers
// are peers; there is no election, only presence announcement.
type Coordinator interface {
	// RegisterNode announces this node with a status payload under a lease
	// of ttl seconds. Calling it periodically keeps the node visible;
	// missing the deadline lets the registration expire.
	RegisterNode(ctx context.Context, nodeID string, status []byte, ttl int) error

	// ActiveNodes lists the IDs of currently registered nodes.
	ActiveNodes(ctx context.Context) ([]string, error)

	// NodeStatus fetches the status payload a node registered with.
	NodeStatus(ctx context.Context, nodeID string) ([]byte, error)

	// Close terminates the coordinator connection.
	Close() error
}
