package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cmdworker/pkg/command"
	"cmdworker/pkg/logger"
	"cmdworker/pkg/metrics"
	"cmdworker/pkg/models"
	tracing "cmdworker/pkg/observability"
)

// MaxResultMessageBytes caps the size of a success message relayed over the
// result stream. Failure diagnostics are never truncated; the archive holds
// the full output either way.
const MaxResultMessageBytes = 1 << 20

// Process runs one job through parameter extraction, template compilation,
// launch, and result mapping. It always returns a resolved result; queue
// transport stays with the caller.
func (w *Worker) Process(ctx context.Context, job *models.Job) *models.JobResult {
	ctx, span := w.tracer.Start(ctx, "worker.process_job",
		trace.WithAttributes(attribute.Int64("job.id", job.JobID)))
	defer span.End()

	result := models.NewJobResult(job.JobID)
	log := logger.WithFields(zap.Int64("job_id", job.JobID))
	start := time.Now()

	params, err := job.ParameterSet()
	if err != nil {
		log.Error("invalid job parameters", zap.Error(err))
		return w.fail(ctx, result, start, fmt.Sprintf("invalid job parameters: %v", err))
	}

	// Only a truly absent template short-circuits here. A template that
	// arrived empty still compiles and launches, where it is rejected as a
	// missing executable.
	if !params.HasCommandTemplate {
		log.Error("job has no command template")
		return w.fail(ctx, result, start, fmt.Sprintf("missing required parameter %q", models.ParamCommandTemplate))
	}

	if err := checkRequirements(params.Requirements); err != nil {
		log.Warn("job requirements not met", zap.Error(err))
		return w.fail(ctx, result, start, err.Error())
	}

	compiled := command.Compile(params.CommandTemplate, params.Params)
	tracing.AddEvent(ctx, "command.compiled", attribute.String("command.line", compiled))
	log.Info("launching command",
		zap.String("command", compiled),
		zap.String("exec_dir", params.ExecDir),
	)

	output, err := w.launcher.Launch(ctx, compiled, params.ExecDir)
	duration := time.Since(start)

	if err != nil {
		tracing.SetError(ctx, err)
		w.archive(ctx, job.JobID, []byte(err.Error()), result, log)
		result.Fail(err.Error())
		metrics.RecordJob(string(models.JobStatusError), duration.Seconds(), len(result.Message))

		fields := []zap.Field{
			zap.String("reason", failureReason(err)),
			zap.Duration("duration", duration),
		}
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			tracing.SetAttributes(ctx, attribute.Int("command.exit_code", exitErr.ExitCode))
			fields = append(fields, zap.Int("exit_code", exitErr.ExitCode))
		}
		log.Error("job failed", fields...)
		return result
	}

	w.archive(ctx, job.JobID, []byte(output), result, log)

	message := output
	if len(message) > MaxResultMessageBytes {
		message = message[:MaxResultMessageBytes]
		metrics.MessagesTruncated.Inc()
		log.Info("result message truncated", zap.Int("output_bytes", len(output)))
	}
	result.Complete(message)
	metrics.RecordJob(string(models.JobStatusCompleted), duration.Seconds(), len(output))
	log.Info("job completed",
		zap.Duration("duration", duration),
		zap.Int("output_bytes", len(output)),
	)
	return result
}

// fail resolves the result as an error before any command ran.
func (w *Worker) fail(ctx context.Context, result *models.JobResult, start time.Time, message string) *models.JobResult {
	tracing.SetError(ctx, errors.New(message))
	result.Fail(message)
	metrics.RecordJob(string(models.JobStatusError), time.Since(start).Seconds(), 0)
	return result
}

// archive stores the full output when an archive backend is configured and
// attaches the reference to the result. Archive failures never fail the job.
func (w *Worker) archive(ctx context.Context, jobID int64, output []byte, result *models.JobResult, log *zap.Logger) {
	if w.logs == nil {
		return
	}

	var uri string
	err := w.archiveBreaker.Execute(ctx, func() error {
		var storeErr error
		uri, storeErr = w.logs.Store(ctx, jobID, output)
		return storeErr
	})
	if err != nil {
		metrics.ArchiveErrors.Inc()
		log.Warn("failed to archive command output", zap.Error(err))
		return
	}
	result.OutputURI = uri
}

// failureReason labels a launch error for logs.
func failureReason(err error) string {
	var spawnErr *command.SpawnError
	var exitErr *command.ExitError
	switch {
	case errors.Is(err, command.ErrMissingExecutable):
		return "missing_executable"
	case errors.As(err, &spawnErr):
		return "spawn_failure"
	case errors.As(err, &exitErr):
		return "nonzero_exit"
	default:
		return "unknown"
	}
}
