package job

import (
	"context"
	"log/slog"
	"time"

	"flirtmarket/internal/model"
)

type FailedOutboxStore interface {
	FailedBefore(ctx context.Context, t time.Time, limit int) ([]*model.OutboxMessage, error)
	Requeue(ctx context.Context, id int64) (bool, error)
}

// OutboxRequeueJob gives parked outbox messages another round once they
// have cooled down, so a long broker outage does not lose ledger events.
type OutboxRequeueJob struct {
	store     FailedOutboxStore
	log       *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	coolDown  time.Duration
	batchSize int
	now       func() time.Time
}

func NewOutboxRequeueJob(store FailedOutboxStore, log *slog.Logger, interval, coolDown time.Duration) *OutboxRequeueJob {
	return &OutboxRequeueJob{
		store:     store,
		log:       log.With("job", "outbox_requeue"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		coolDown:  coolDown,
		batchSize: 100,
		now:       time.Now,
	}
}

func (j *OutboxRequeueJob) Start(ctx context.Context) {
	j.log.Info("started", "interval", j.interval, "cool_down", j.coolDown)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *OutboxRequeueJob) Stop() {
	close(j.stopCh)
}

func (j *OutboxRequeueJob) RunOnce(ctx context.Context) int {
	messages, err := j.store.FailedBefore(ctx, j.now().Add(-j.coolDown), j.batchSize)
	if err != nil {
		j.log.Error("load failed messages", "err", err)
		return 0
	}
	requeued := 0
	for _, msg := range messages {
		ok, err := j.store.Requeue(ctx, msg.ID)
		if err != nil {
			j.log.Error("requeue", "id", msg.ID, "err", err)
			continue
		}
		if ok {
			requeued++
		}
	}
	if requeued > 0 {
		j.log.Info("requeued parked messages", "count", requeued)
	}
	return requeued
}
