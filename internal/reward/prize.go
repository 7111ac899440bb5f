package reward

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var (
	ErrEmptyTable  = errors.New("prize table is empty")
	ErrInvalidDraw = errors.New("draw must be in [0, 1)")
)

// Prize is one slot of a wheel or fortune deck.
type Prize struct {
	Label  string `mapstructure:"label" json:"label"`
	Amount int64  `mapstructure:"amount" json:"amount"`
	Weight int    `mapstructure:"weight" json:"weight"`
}

// PrizeTable is a fixed weighted table. Each slot wins with probability
// Weight / sum(Weights).
type PrizeTable []Prize

func (t PrizeTable) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	for i, p := range t {
		if p.Weight <= 0 {
			return fmt.Errorf("prize %d (%s): weight must be > 0", i, p.Label)
		}
		if p.Amount < 0 {
			return fmt.Errorf("prize %d (%s): amount must be >= 0", i, p.Label)
		}
	}
	return nil
}

func (t PrizeTable) totalWeight() int {
	total := 0
	for _, p := range t {
		total += p.Weight
	}
	return total
}

// Select maps a draw in [0, 1) onto the table by cumulative weight. It is
// pure: the same draw always selects the same prize.
func (t PrizeTable) Select(draw float64) (Prize, error) {
	if err := t.Validate(); err != nil {
		return Prize{}, err
	}
	if draw < 0 || draw >= 1 {
		return Prize{}, ErrInvalidDraw
	}
	target := draw * float64(t.totalWeight())
	cumulative := 0.0
	for _, p := range t {
		cumulative += float64(p.Weight)
		if target < cumulative {
			return p, nil
		}
	}
	return t[len(t)-1], nil
}

// Drawer supplies draws in [0, 1).
type Drawer interface {
	Float64() float64
}

// FixedDraw always returns the same value.
type FixedDraw float64

func (f FixedDraw) Float64() float64 { return float64(f) }

// RandDrawer is a goroutine-safe math/rand source.
type RandDrawer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandDrawer(seed int64) *RandDrawer {
	return &RandDrawer{rnd: rand.New(rand.NewSource(seed))}
}

func (r *RandDrawer) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}
