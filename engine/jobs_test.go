package engine

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
)

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

func TestScheduleRunEnqueuesIdempotentMessage(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	scheduler, err := NewRunScheduler(enqueuer, nil)
	if err != nil {
		t.Fatalf("new run scheduler: %v", err)
	}

	err = scheduler.ScheduleRun(context.Background(), RunRequest{
		RunID:     "run_1",
		InputPath: "/var/lib/dynsync/in",
		Streams:   []string{"VendorInvoiceHeaders"},
		Metadata:  map[string]any{"source": "erp"},
	})
	if err != nil {
		t.Fatalf("schedule run: %v", err)
	}

	msg := enqueuer.last
	if msg == nil {
		t.Fatalf("expected enqueued message")
	}
	if msg.JobID != JobIDRun {
		t.Fatalf("job id = %q", msg.JobID)
	}
	if msg.IdempotencyKey != "run_1" {
		t.Fatalf("idempotency key = %q", msg.IdempotencyKey)
	}
	if msg.Parameters["run_id"] != "run_1" || msg.Parameters["input_path"] != "/var/lib/dynsync/in" {
		t.Fatalf("parameters = %#v", msg.Parameters)
	}
	if msg.Parameters["source"] != "erp" {
		t.Fatalf("metadata must ride along, got %#v", msg.Parameters)
	}
	streams, ok := msg.Parameters["streams"].([]string)
	if !ok || len(streams) != 1 || streams[0] != "VendorInvoiceHeaders" {
		t.Fatalf("streams = %#v", msg.Parameters["streams"])
	}
}

func TestScheduleRunRequiresRunID(t *testing.T) {
	scheduler, err := NewRunScheduler(&stubQueueEnqueuer{}, nil)
	if err != nil {
		t.Fatalf("new run scheduler: %v", err)
	}
	if err := scheduler.ScheduleRun(context.Background(), RunRequest{}); err == nil {
		t.Fatalf("expected missing run id error")
	}
}

func TestScheduleCredentialRotateEnqueues(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	scheduler, err := NewRunScheduler(enqueuer, nil)
	if err != nil {
		t.Fatalf("new run scheduler: %v", err)
	}
	if err := scheduler.ScheduleCredentialRotate(context.Background(), "contoso"); err != nil {
		t.Fatalf("schedule credential rotate: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDCredentialRotate {
		t.Fatalf("message = %#v", enqueuer.last)
	}
	if enqueuer.last.Parameters["tenant"] != "contoso" {
		t.Fatalf("parameters = %#v", enqueuer.last.Parameters)
	}
}

func TestNackOptionsForAttempt(t *testing.T) {
	opts := NackOptionsForAttempt(1, 3, 5*time.Second, "remote unavailable")
	if !opts.Requeue || opts.DeadLetter {
		t.Fatalf("early attempt must requeue: %#v", opts)
	}
	if opts.Delay != 5*time.Second || opts.Reason != "remote unavailable" {
		t.Fatalf("opts = %#v", opts)
	}

	final := NackOptionsForAttempt(3, 3, -time.Second, "remote unavailable")
	if final.Requeue || !final.DeadLetter {
		t.Fatalf("exhausted attempt must dead-letter: %#v", final)
	}
	if final.Delay != 0 {
		t.Fatalf("negative delay must clamp to zero, got %v", final.Delay)
	}
}
