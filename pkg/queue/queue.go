package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotRunning  = errors.New("queue not running")
	ErrUnknownType = errors.New("no job registered for message type")
	ErrQueueFull   = errors.New("queue full")
)

// Queue dispatches typed messages to registered jobs on a pool of workers.
type Queue interface {
	RegisterJob(job Job)
	Start() error
	// Stop stops accepting messages and waits for in-flight work until ctx ends.
	Stop(ctx context.Context) error
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

// Job handles every message of one type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int           // number of workers
	QueueSize  int           // buffered messages, memory queue only
	RetryLimit int           // retries before a message is dead-lettered
	RetryDelay time.Duration // delay between retries
}

func (c QueueConfig) normalize() QueueConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	return c
}

// Message is the envelope stored on the queue.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

func newMessage(msgType string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &out, nil
}

type registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]Job)}
}

// add returns false when the type already has a job.
func (r *registry) add(job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		return false
	}
	r.jobs[job.Type()] = job
	return true
}

func (r *registry) get(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

// waitGroup waits for wg or ctx, whichever finishes first.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	}
}
