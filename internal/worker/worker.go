// Package worker runs queued recording processing jobs.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/posnetek/backend/internal/processing"
	"github.com/posnetek/backend/internal/recordings"
	"github.com/posnetek/backend/pkg/queue"
)

// errorBackoff is the pause after a queue error before polling again.
const errorBackoff = 2 * time.Second

// Runner runs the processing pipeline for one recording.
type Runner interface {
	Process(ctx context.Context, userID, recordingID uuid.UUID) (*processing.Result, error)
}

// JobSource is the queue the worker consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// ProcessWorker consumes process_recording jobs. Failed jobs go to the dead-letter list; they are
// not retried because the recording is already marked failed and can be re-triggered by the user.
type ProcessWorker struct {
	runner Runner
	jobs   JobSource
	logger *zap.Logger
}

// NewProcessWorker creates a processing worker.
func NewProcessWorker(runner Runner, jobs JobSource, logger *zap.Logger) *ProcessWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessWorker{runner: runner, jobs: jobs, logger: logger}
}

// Handle executes one job.
func (w *ProcessWorker) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeProcess(job)
	if err != nil {
		return err
	}
	res, err := w.runner.Process(ctx, payload.UserID, payload.RecordingID)
	if err != nil {
		return err
	}
	w.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("status", res.Status))
	return nil
}

// Run starts the worker loop: dequeue, process, dead-letter on error. It returns when ctx is done.
func (w *ProcessWorker) Run(ctx context.Context) {
	w.logger.Info("process worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("process worker stopping")
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, errorBackoff)
			continue
		}
		if job == nil {
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		err = w.Handle(ctx, job)
		switch {
		case err == nil:
		case errors.Is(err, processing.ErrAlreadyProcessing):
			w.logger.Info("job dropped, recording is being processed elsewhere", zap.String("job_id", job.ID))
		case errors.Is(err, recordings.ErrNotFound):
			w.logger.Warn("job dropped, recording not found", zap.String("job_id", job.ID))
		default:
			w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if dlqErr := w.jobs.DeadLetter(context.WithoutCancel(ctx), job, err); dlqErr != nil {
				w.logger.Error("dead-letter failed", zap.String("job_id", job.ID), zap.Error(dlqErr))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
