package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/model"
)

// ErrOptimisticLock means the row version moved between read and update.
var ErrOptimisticLock = errors.New("account version conflict")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, balance.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Deduct subtracts amount only while the balance covers it and the version is
// unchanged. A zero-row update is resolved into insufficient funds or a
// version conflict.
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID, amount int64, version int) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return &balance.InsufficientFundsError{Balance: account.Balance, Amount: amount}
		}
		return ErrOptimisticLock
	}
	return nil
}

func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID, amount int64, version int) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// GetOrCreate returns the account, inserting an empty regular one on first
// access. Concurrent creators race on the unique user_id index.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, username string) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, nil, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, balance.ErrAccountNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.Account{UserID: userID, Role: model.RoleRegular, Username: username}).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, nil, userID)
}
