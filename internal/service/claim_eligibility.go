package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"flirtmarket/internal/balance"
	"flirtmarket/internal/repository"
	"flirtmarket/internal/reward"
)

// ClaimEligibility stores reward claims in MySQL so the once-per-day rule
// holds across restarts and instances.
type ClaimEligibility struct {
	repo *repository.ClaimRepository
}

func NewClaimEligibility(db *gorm.DB) *ClaimEligibility {
	return &ClaimEligibility{repo: repository.NewClaimRepository(db)}
}

func (e *ClaimEligibility) Claimed(ctx context.Context, accountID int64, source, day string) (bool, error) {
	ok, err := e.repo.Exists(ctx, accountID, source, day)
	if err != nil {
		return false, serviceErr("lookup claim", err)
	}
	return ok, nil
}

func (e *ClaimEligibility) RecordClaim(ctx context.Context, accountID int64, source, day string) error {
	err := e.repo.Create(ctx, accountID, source, day)
	if err != nil && !errors.Is(err, balance.ErrAlreadyClaimed) {
		return serviceErr("record claim", err)
	}
	return err
}

func (e *ClaimEligibility) RevokeClaim(ctx context.Context, accountID int64, source, day string) error {
	if err := e.repo.Delete(ctx, accountID, source, day); err != nil {
		return serviceErr("revoke claim", err)
	}
	return nil
}

var _ reward.Eligibility = (*ClaimEligibility)(nil)
