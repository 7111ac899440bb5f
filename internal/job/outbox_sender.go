package job

import (
	"context"
	"log/slog"
	"time"

	"flirtmarket/internal/model"
)

// Publisher sends one keyed message to a topic.
type Publisher interface {
	Send(topic, key, value string) error
}

// OutboxStore is the slice of the outbox repository the relay needs.
type OutboxStore interface {
	Pending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, retryCount, maxRetries int) error
}

// OutboxSender relays committed outbox rows to Kafka.
type OutboxSender struct {
	store      OutboxStore
	publisher  Publisher
	log        *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetries int
}

func NewOutboxSender(store OutboxStore, publisher Publisher, log *slog.Logger, interval time.Duration, batchSize, maxRetries int) *OutboxSender {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxSender{
		store:      store,
		publisher:  publisher,
		log:        log.With("job", "outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce relays one batch and returns how many messages were sent.
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.store.Pending(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending messages", "err", err)
		return 0
	}
	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.store.MarkSent(ctx, msg.ID); err != nil {
			s.log.Error("mark sent", "id", msg.ID, "err", err)
		}
		s.log.Debug("sent", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		return true
	}

	s.log.Warn("publish failed", "id", msg.ID, "retry_count", msg.RetryCount, "err", err)
	if err := s.store.RecordFailure(ctx, msg.ID, msg.RetryCount, s.maxRetries); err != nil {
		s.log.Error("record failure", "id", msg.ID, "err", err)
	}
	if msg.RetryCount+1 >= s.maxRetries {
		s.log.Error("message parked after max retries", "id", msg.ID, "topic", msg.Topic)
	}
	return false
}
