package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type payload struct {
	N int `json:"n"`
}

type countingJob struct {
	mu       sync.Mutex
	seen     []int
	failures int // first N calls fail
	calls    int
}

func (j *countingJob) Name() string { return "counting" }
func (j *countingJob) Type() string { return "count" }

func (j *countingJob) Handle(_ context.Context, raw json.RawMessage) error {
	p, err := ParsePayload[payload](raw)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.calls <= j.failures {
		return errors.New("boom")
	}
	j.seen = append(j.seen, p.N)
	return nil
}

func (j *countingJob) snapshot() (int, []int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls, append([]int(nil), j.seen...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestMemoryQueueStopDrains(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{Workers: 1, QueueSize: 16})
	job := &countingJob{}
	q.RegisterJob(job)
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if err := q.Enqueue(context.Background(), "count", payload{N: i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	_, seen := job.snapshot()
	if len(seen) != 5 || seen[0] != 1 || seen[4] != 5 {
		t.Fatalf("seen = %v, want 1..5 in order", seen)
	}
	if err := q.Enqueue(context.Background(), "count", payload{N: 6}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("enqueue after stop = %v, want ErrNotRunning", err)
	}
}

func TestMemoryQueueRetriesThenSucceeds(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{Workers: 1, RetryLimit: 3, RetryDelay: 5 * time.Millisecond})
	job := &countingJob{failures: 2}
	q.RegisterJob(job)
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Stop(context.Background())

	if err := q.Enqueue(context.Background(), "count", payload{N: 7}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	eventually(t, func() bool {
		_, seen := job.snapshot()
		return len(seen) == 1
	})
	calls, _ := job.snapshot()
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if n := len(q.DeadLetters()); n != 0 {
		t.Fatalf("dead letters = %d", n)
	}
}

func TestMemoryQueueDeadLetters(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{Workers: 1, RetryLimit: 1, RetryDelay: 5 * time.Millisecond})
	job := &countingJob{failures: 10}
	q.RegisterJob(job)
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Stop(context.Background())

	if err := q.Enqueue(context.Background(), "count", payload{N: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	eventually(t, func() bool { return len(q.DeadLetters()) == 1 })
	dl := q.DeadLetters()[0]
	if dl.Attempts != 1 || dl.Type != "count" {
		t.Fatalf("dead letter = %+v", dl)
	}
	if calls, _ := job.snapshot(); calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestMemoryQueueRejects(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	q.RegisterJob(blockingJob{block})
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		close(block)
		q.Stop(context.Background())
	}()

	if err := q.Enqueue(context.Background(), "other", payload{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("unknown type err = %v", err)
	}
	// one message is taken by the worker, one fills the buffer
	if err := q.Enqueue(context.Background(), "block", payload{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.Enqueue(context.Background(), "block", payload{})
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if err := q.Start(); err == nil {
		t.Fatalf("second start should fail")
	}
}

type blockingJob struct{ ch chan struct{} }

func (blockingJob) Name() string { return "blocking" }
func (blockingJob) Type() string { return "block" }
func (j blockingJob) Handle(context.Context, json.RawMessage) error {
	<-j.ch
	return nil
}

func TestStopTimeout(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{Workers: 1})
	block := make(chan struct{})
	defer close(block)
	q.RegisterJob(blockingJob{block})
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Enqueue(context.Background(), "block", payload{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Stop(ctx); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestRedisQueueKeys(t *testing.T) {
	q := NewRedisQueue(nil, QueueConfig{}, nil, WithKeyPrefix("tp:q"))
	if q.queueKey() != "tp:q:messages" || q.retryKey() != "tp:q:retry" || q.deadLetterKey() != "tp:q:dlq" {
		t.Fatalf("keys = %s %s %s", q.queueKey(), q.retryKey(), q.deadLetterKey())
	}
	if err := q.Enqueue(context.Background(), "count", payload{}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("enqueue before start = %v", err)
	}
}
