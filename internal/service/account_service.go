package service

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"flirtmarket/internal/model"
	"flirtmarket/internal/repository"
)

// Directory resolves a Telegram user to an account, creating it on first
// sight, and reports the account role.
type Directory interface {
	Ensure(ctx context.Context, userID int64, username string) (role string, err error)
}

type AccountService struct {
	accountRepo *repository.AccountRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{accountRepo: repository.NewAccountRepository(db)}
}

func (s *AccountService) Ensure(ctx context.Context, userID int64, username string) (string, error) {
	account, err := s.accountRepo.GetOrCreate(ctx, userID, username)
	if err != nil {
		return "", serviceErr("ensure account", err)
	}
	return account.Role, nil
}

// MemoryDirectory is the in-process Directory used with the memory driver.
// Performers are seeded through Promote.
type MemoryDirectory struct {
	mu    sync.Mutex
	roles map[int64]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{roles: map[int64]string{}}
}

func (d *MemoryDirectory) Ensure(_ context.Context, userID int64, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	role, ok := d.roles[userID]
	if !ok {
		role = model.RoleRegular
		d.roles[userID] = role
	}
	return role, nil
}

func (d *MemoryDirectory) Promote(userID int64) {
	d.mu.Lock()
	d.roles[userID] = model.RolePerformer
	d.mu.Unlock()
}
