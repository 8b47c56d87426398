package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dynsync/core"
	glog "github.com/goliatone/go-logger/glog"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDRun              = "dynsync.run"
	JobIDCredentialRotate = "dynsync.credential.rotate"
)

// RunRequest describes one queued synchronization run.
type RunRequest struct {
	RunID     string
	InputPath string
	Streams   []string
	Metadata  map[string]any
}

// RunScheduler pushes synchronization runs onto the job queue so a worker
// pool can drain them out of band.
type RunScheduler struct {
	enqueuer queue.Enqueuer
	logger   core.Logger
}

func NewRunScheduler(enqueuer queue.Enqueuer, logger core.Logger) (*RunScheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("engine: enqueuer is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &RunScheduler{enqueuer: enqueuer, logger: logger}, nil
}

// ScheduleRun enqueues a run. The run id doubles as the idempotency key so a
// double-submitted run collapses to one execution.
func (s *RunScheduler) ScheduleRun(ctx context.Context, req RunRequest) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("engine: run scheduler is not initialized")
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		return fmt.Errorf("engine: run id is required")
	}

	params := map[string]any{
		"run_id":     runID,
		"input_path": strings.TrimSpace(req.InputPath),
	}
	if len(req.Streams) > 0 {
		params["streams"] = append([]string{}, req.Streams...)
	}
	for key, value := range req.Metadata {
		params[key] = value
	}

	msg := &job.ExecutionMessage{
		JobID:          JobIDRun,
		Parameters:     params,
		IdempotencyKey: runID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
	if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("engine: enqueue run %s: %w", runID, err)
	}
	s.logger.Info("run scheduled", "run_id", runID, "job_id", JobIDRun)
	return nil
}

// ScheduleCredentialRotate enqueues a token refresh ahead of a large run so
// the first record does not pay the refresh latency.
func (s *RunScheduler) ScheduleCredentialRotate(ctx context.Context, tenant string) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("engine: run scheduler is not initialized")
	}
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return fmt.Errorf("engine: tenant is required")
	}
	msg := &job.ExecutionMessage{
		JobID:          JobIDCredentialRotate,
		Parameters:     map[string]any{"tenant": tenant},
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobIDCredentialRotate, tenant, time.Now().UTC().Unix()/60),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
	if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("engine: enqueue credential rotate: %w", err)
	}
	return nil
}

// NackOptionsForAttempt bounds queue retries for a failed run delivery.
func NackOptionsForAttempt(attempt, maxAttempts int, delay time.Duration, reason string) queue.NackOptions {
	opts := queue.NackOptions{
		Delay:   delay,
		Requeue: true,
		Reason:  strings.TrimSpace(reason),
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if maxAttempts > 0 && attempt >= maxAttempts {
		opts.Requeue = false
		opts.DeadLetter = true
	}
	return opts
}
