package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TickPilot/pkg/logger"
)

// MemoryQueue is an in-process queue backed by a buffered channel. Messages
// still queued when the process exits are lost.
type MemoryQueue struct {
	logger *logger.Logger
	config QueueConfig
	jobs   *registry

	mu      sync.RWMutex
	running bool
	msgs    chan Message
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	dead    []Message
}

func NewMemoryQueue(lgr *logger.Logger, config QueueConfig) *MemoryQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		logger: lgr,
		config: config.normalize(),
		jobs:   newRegistry(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	if !q.jobs.add(job) {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
	}
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	q.running = true
	q.msgs = make(chan Message, q.config.QueueSize)
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(q.msgs)
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers), logger.Int("size", q.config.QueueSize))
	return nil
}

// Stop closes the channel and lets the workers drain what is queued.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.msgs)
	q.mu.Unlock()

	err := waitGroup(ctx, &q.wg)
	q.cancel()
	return err
}

func (q *MemoryQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if _, ok := q.jobs.get(msgType); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}
	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	return q.push(msg)
}

func (q *MemoryQueue) push(msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return ErrNotRunning
	}
	select {
	case q.msgs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// DeadLetters returns the messages that ran out of retries.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) worker(msgs <-chan Message) {
	defer q.wg.Done()
	for msg := range msgs {
		q.process(msg)
	}
}

func (q *MemoryQueue) process(msg Message) {
	job, ok := q.jobs.get(msg.Type)
	if !ok {
		q.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}
	err := job.Handle(q.ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		q.logger.Warn("message cancelled", logger.String("id", msg.ID), logger.String("job", job.Name()))
		return
	}
	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= q.config.RetryLimit {
		q.deadLetter(msg)
		return
	}
	msg.Attempts++
	time.AfterFunc(q.config.RetryDelay, func() {
		if err := q.push(msg); err != nil {
			q.deadLetter(msg)
		}
	})
}

func (q *MemoryQueue) deadLetter(msg Message) {
	q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("type", msg.Type))
	q.mu.Lock()
	q.dead = append(q.dead, msg)
	q.mu.Unlock()
}
