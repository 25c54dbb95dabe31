package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const nodesPrefix = "/nodes/"

// EtcdCoordinator registers worker nodes in etcd under short-lived leases.
type EtcdCoordinator struct {
	client *clientv3.Client
}

func NewEtcdCoordinator(endpoints []string) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdCoordinator{client: cli}, nil
}

func (c *EtcdCoordinator) Close() error {
	return c.client.Close()
}

// RegisterNode writes the node's status under a fresh lease. The caller's
// heartbeat loop re-registers before the lease expires; a node that stops
// heartbeating disappears from the registry after ttl seconds.
func (c *EtcdCoordinator) RegisterNode(ctx context.Context, nodeID string, status []byte, ttl int) error {
	lease, err := c.client.Grant(ctx, int64(ttl))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	key := nodesPrefix + nodeID
	if _, err := c.client.Put(ctx, key, string(status), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}
	return nil
}

// ActiveNodes lists the IDs of all currently registered nodes.
func (c *EtcdCoordinator) ActiveNodes(ctx context.Context) ([]string, error) {
	resp, err := c.client.Get(ctx, nodesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodes = append(nodes, strings.TrimPrefix(string(kv.Key), nodesPrefix))
	}
	return nodes, nil
}

// NodeStatus fetches the registered status payload for one node.
func (c *EtcdCoordinator) NodeStatus(ctx context.Context, nodeID string) ([]byte, error) {
	resp, err := c.client.Get(ctx, nodesPrefix+nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("node %q not registered", nodeID)
	}
	return resp.Kvs[0].Value, nil
}
