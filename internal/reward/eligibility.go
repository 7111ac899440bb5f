package reward

import (
	"context"
	"fmt"
	"sync"

	"flirtmarket/internal/balance"
)

// MemoryEligibility keeps claims in process memory.
type MemoryEligibility struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func NewMemoryEligibility() *MemoryEligibility {
	return &MemoryEligibility{claims: map[string]struct{}{}}
}

func claimKey(accountID int64, source, day string) string {
	return fmt.Sprintf("%d:%s:%s", accountID, source, day)
}

func (m *MemoryEligibility) Claimed(_ context.Context, accountID int64, source, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[claimKey(accountID, source, day)]
	return ok, nil
}

func (m *MemoryEligibility) RecordClaim(_ context.Context, accountID int64, source, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := claimKey(accountID, source, day)
	if _, ok := m.claims[key]; ok {
		return balance.ErrAlreadyClaimed
	}
	m.claims[key] = struct{}{}
	return nil
}

func (m *MemoryEligibility) RevokeClaim(_ context.Context, accountID int64, source, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, claimKey(accountID, source, day))
	return nil
}

var _ Eligibility = (*MemoryEligibility)(nil)
