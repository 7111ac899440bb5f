package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/model"
)

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) Exists(ctx context.Context, userID int64, source, day string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RewardClaim{}).
		Where("user_id = ? AND source = ? AND day = ?", userID, source, day).
		Count(&count).Error
	return count > 0, err
}

// Create inserts the claim. The unique (user_id, source, day) index turns a
// second insert into a no-op, reported as ErrAlreadyClaimed.
func (r *ClaimRepository) Create(ctx context.Context, userID int64, source, day string) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.RewardClaim{UserID: userID, Source: source, Day: day})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return balance.ErrAlreadyClaimed
	}
	return nil
}

func (r *ClaimRepository) Delete(ctx context.Context, userID int64, source, day string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND source = ? AND day = ?", userID, source, day).
		Delete(&model.RewardClaim{}).Error
}
