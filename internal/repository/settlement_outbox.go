package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TickPilot/internal/domain/models"
	domrepo "TickPilot/internal/domain/repository"
	"TickPilot/pkg/queue"
)

const settlementJobType = "settlement.record"

// QueuedJournal hands settlement records to a work queue, so the account
// loop never waits on the journal store. Writes that fail are retried by the
// queue.
type QueuedJournal struct {
	q           queue.Queue
	inner       domrepo.Journal
	stopTimeout time.Duration
}

// NewQueuedJournal registers the settlement job on q and starts it.
func NewQueuedJournal(q queue.Queue, inner domrepo.Journal) (*QueuedJournal, error) {
	q.RegisterJob(settlementJob{journal: inner})
	if err := q.Start(); err != nil {
		return nil, fmt.Errorf("start settlement queue: %w", err)
	}
	return &QueuedJournal{q: q, inner: inner, stopTimeout: 10 * time.Second}, nil
}

func (j *QueuedJournal) RecordSettlement(ctx context.Context, r models.SettlementRecord) error {
	return j.q.Enqueue(ctx, settlementJobType, r)
}

// Close drains the queue, then closes the underlying journal.
func (j *QueuedJournal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.stopTimeout)
	defer cancel()
	return errors.Join(j.q.Stop(ctx), j.inner.Close())
}

type settlementJob struct {
	journal domrepo.Journal
}

func (settlementJob) Name() string { return "settlement-journal" }
func (settlementJob) Type() string { return settlementJobType }

func (s settlementJob) Handle(ctx context.Context, payload json.RawMessage) error {
	r, err := queue.ParsePayload[models.SettlementRecord](payload)
	if err != nil {
		return err
	}
	return s.journal.RecordSettlement(ctx, *r)
}
