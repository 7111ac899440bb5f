package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"gorm.io/gorm"

	"flirtmarket/internal/model"
	"flirtmarket/internal/repository"
	"flirtmarket/internal/reward"
)

// RewardOutbox queues granted rewards for the Kafka relay.
type RewardOutbox struct {
	repo  *repository.OutboxRepository
	topic string
	log   *slog.Logger
}

func NewRewardOutbox(db *gorm.DB, topic string, log *slog.Logger) *RewardOutbox {
	return &RewardOutbox{repo: repository.NewOutboxRepository(db), topic: topic, log: log}
}

func (o *RewardOutbox) RewardGranted(ctx context.Context, ev reward.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		o.log.Error("encode reward event", "err", err)
		return
	}
	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(ev.AccountID, 10),
		Topic:      o.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := o.repo.Create(ctx, nil, msg); err != nil {
		o.log.Error("queue reward event", "account_id", ev.AccountID, "source", ev.Source, "err", err)
	}
}

var _ reward.Sink = (*RewardOutbox)(nil)
