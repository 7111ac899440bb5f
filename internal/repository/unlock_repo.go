package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"flirtmarket/internal/model"
)

type UnlockRepository struct {
	db *gorm.DB
}

func NewUnlockRepository(db *gorm.DB) *UnlockRepository {
	return &UnlockRepository{db: db}
}

func (r *UnlockRepository) Create(ctx context.Context, tx *gorm.DB, unlock *model.Unlock) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(unlock).Error
}

// Get returns nil, nil when the user has not unlocked the content.
func (r *UnlockRepository) Get(ctx context.Context, userID int64, contentID string) (*model.Unlock, error) {
	var unlock model.Unlock
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND content_id = ?", userID, contentID).
		First(&unlock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unlock, nil
}
