package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	config "cmdworker/configs"
	"cmdworker/pkg/command"
	"cmdworker/pkg/coordination"
	"cmdworker/pkg/logger"
	"cmdworker/pkg/metrics"
	"cmdworker/pkg/resilience"
	"cmdworker/pkg/storage"
)

// finishTimeout bounds publishing and acknowledging a result once the job
// itself is done, on a context detached from the pop loop.
const finishTimeout = 10 * time.Second

// Worker consumes command-line jobs from the queue, processes them, and
// publishes results. It announces itself to the node registry on a TTL
// lease for as long as it runs.
type Worker struct {
	ID         string
	Hostname   string
	Descriptor Descriptor

	TotalCPU int
	TotalMem uint64 // in MB

	concurrency int
	heartbeat   time.Duration
	ttl         int
	group       string
	grace       time.Duration

	coordinator    coordination.Coordinator
	queue          storage.JobQueue
	logs           storage.LogStore // nil disables output archiving
	launcher       command.Launcher
	archiveBreaker *resilience.CircuitBreaker
	tracer         trace.Tracer

	running   atomic.Int64
	startedAt time.Time
	wg        sync.WaitGroup
}

// New assembles a worker from its dependencies.
func New(cfg *config.Config, desc Descriptor, coord coordination.Coordinator, queue storage.JobQueue, logs storage.LogStore, launcher command.Launcher) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	return &Worker{
		ID:             id,
		Hostname:       hostname,
		Descriptor:     desc,
		TotalCPU:       runtime.NumCPU(),
		TotalMem:       detectTotalMemory(),
		concurrency:    cfg.Concurrency,
		heartbeat:      cfg.HeartbeatInterval,
		ttl:            cfg.RegistrationTTL,
		group:          cfg.ConsumerGroup,
		grace:          cfg.ShutdownGrace,
		coordinator:    coord,
		queue:          queue,
		logs:           logs,
		launcher:       launcher,
		archiveBreaker: resilience.NewCircuitBreaker("archive", resilience.DefaultCircuitBreakerConfig()),
		tracer:         otel.Tracer("cmdworker/worker"),
		startedAt:      time.Now(),
	}
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("failed to detect total memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Start runs the heartbeat and consume loops until ctx is cancelled, then
// waits for in-flight jobs to drain. A job already popped keeps running
// for the shutdown grace period before its child is killed, and its result
// is published and acked either way.
func (w *Worker) Start(ctx context.Context) {
	logger.Info("worker starting",
		zap.String("worker_id", w.ID),
		zap.String("worker", w.Descriptor.Name),
		zap.String("version", w.Descriptor.Version),
		zap.Int("concurrency", w.concurrency),
	)

	if err := w.queue.EnsureGroup(ctx, w.group); err != nil {
		logger.Warn("failed to ensure consumer group", zap.Error(err))
	}

	// Register right away so the node is visible before the first tick.
	if err := w.RegisterHeartbeat(ctx); err != nil {
		logger.Warn("initial registration failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.RegisterHeartbeat(ctx); err != nil {
					logger.Error("heartbeat failed", zap.Error(err))
				}
			}
		}
	}()

	// Worker pool semaphore: the send blocks while all slots are busy.
	sem := make(chan struct{}, w.concurrency)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping, draining in-flight jobs", zap.String("worker_id", w.ID))
			w.wg.Wait()
			logger.Info("worker stopped", zap.String("worker_id", w.ID))
			return
		case sem <- struct{}{}:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-sem }()
				w.consumeOne(ctx)
			}()
		}
	}
}

// consumeOne performs a single pop -> process -> publish -> ack cycle.
func (w *Worker) consumeOne(ctx context.Context) {
	msgID, job, err := w.queue.Pop(ctx, w.group, w.ID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.QueueErrors.Inc()
		logger.Error("failed to pop job", zap.Error(err), zap.String("msg_id", msgID))
		if msgID != "" {
			// Undecodable message: ack it away rather than letting it
			// poison the consumer group.
			if ackErr := w.queue.Ack(ctx, w.group, msgID); ackErr != nil {
				logger.Error("failed to ack bad message", zap.Error(ackErr))
			}
			return
		}
		time.Sleep(time.Second)
		return
	}
	if job == nil {
		return // poll timeout
	}

	metrics.JobsRunning.Inc()
	w.running.Add(1)
	defer func() {
		metrics.JobsRunning.Dec()
		w.running.Add(-1)
	}()

	logger.Info("received job", zap.Int64("job_id", job.JobID), zap.String("msg_id", msgID))

	jobCtx, release := w.jobContext(ctx)
	defer release()
	result := w.Process(jobCtx, job)

	// Publishing and acking run on a detached context so a result still
	// lands when shutdown began mid-job.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := w.queue.PublishResult(finishCtx, result); err != nil {
		metrics.QueueErrors.Inc()
		logger.Error("failed to publish result", zap.Int64("job_id", job.JobID), zap.Error(err))
	}

	// Ack regardless of publish outcome: redelivery would re-run the
	// command, and delivery guarantees live with the platform.
	if err := w.queue.Ack(finishCtx, w.group, msgID); err != nil {
		metrics.QueueErrors.Inc()
		logger.Error("failed to ack job", zap.Int64("job_id", job.JobID), zap.Error(err))
	}
}

// jobContext derives the context a popped job runs under. Cancelling the
// pop loop's context does not cancel it immediately; the job keeps the
// shutdown grace period to finish before its child is killed. The returned
// release func must be called once the job is done.
func (w *Worker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		select {
		case <-jobCtx.Done():
		case <-time.After(w.grace):
			cancel()
		}
	})
	return jobCtx, func() {
		stop()
		cancel()
	}
}

// RegisterHeartbeat announces the node with its current status payload.
func (w *Worker) RegisterHeartbeat(ctx context.Context) error {
	payload, err := json.Marshal(w.Status())
	if err != nil {
		return fmt.Errorf("failed to marshal node status: %w", err)
	}
	if err := w.coordinator.RegisterNode(ctx, w.ID, payload, w.ttl); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	metrics.HeartbeatsSent.Inc()
	return nil
}

// Status snapshots the node for registration and the ops endpoint.
func (w *Worker) Status() NodeStatus {
	status := NodeStatus{
		ID:          w.ID,
		Hostname:    w.Hostname,
		Worker:      w.Descriptor.Name,
		Version:     w.Descriptor.Version,
		PID:         os.Getpid(),
		CPUs:        w.TotalCPU,
		MemoryMB:    w.TotalMem,
		RunningJobs: w.running.Load(),
		StartedAt:   w.startedAt,
	}
	if w.logs != nil {
		snap := w.archiveBreaker.Snapshot()
		status.ArchiveBreaker = &snap
	}
	return status
}
