package flowkit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Queue  *JobQueue
	Engine *Engine
	Logger *slog.Logger

	// ID identifies this worker instance in logs. Generated when
	// empty.
	ID string

	// BatchSize caps how many jobs one Drain call processes, bounding
	// the wall-clock cost of a polling tick. Defaults to 10.
	BatchSize int
}

// Worker drains the durable queue and runs each popped job through the
// engine. Multiple workers may run concurrently against a shared list
// store; the atomic pop guarantees at most one worker receives any
// given job.
type Worker struct {
	queue     *JobQueue
	engine    *Engine
	logger    *slog.Logger
	id        string
	batchSize int
}

// NewWorker returns a Worker configured with the given options.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{
		queue:     opts.Queue,
		engine:    opts.Engine,
		logger:    opts.Logger.With("worker_id", opts.ID),
		id:        opts.ID,
		batchSize: opts.BatchSize,
	}, nil
}

// ID returns the worker instance ID.
func (w *Worker) ID() string {
	return w.id
}

// ProcessOne pops and runs a single job. It reports whether a job was
// processed; an empty queue returns (false, nil). A job whose run
// fails is not returned as an error: the failure is recorded on the
// Execution and the job is gone from the queue regardless.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	logger := w.logger.With("execution_id", job.ExecutionID)
	logger.Info("processing queued job", "job_id", job.ID, "trigger_type", job.TriggerType)

	result, err := w.engine.Execute(ctx, job)
	if err != nil {
		logger.Error("job execution hit infrastructure failure", "error", err)
		return true, nil
	}
	if result.Status == ExecutionStatusFailed {
		logger.Warn("job execution failed", "error", result.ErrorMessage)
	} else {
		logger.Info("job execution completed")
	}
	return true, nil
}

// Drain processes queued jobs until the queue reports empty or the
// batch cap is reached. It returns the number of jobs processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for processed < w.batchSize {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ok, err := w.ProcessOne(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}

// Run drains the queue on an interval until the context is canceled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("worker started", "interval", interval, "batch_size", w.batchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("queue drain failed", "error", err)
			}
		}
	}
}
