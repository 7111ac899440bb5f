package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrizeTable_Select(t *testing.T) {
	table := PrizeTable{
		{Label: "a", Amount: 1, Weight: 1},
		{Label: "b", Amount: 2, Weight: 2},
		{Label: "c", Amount: 3, Weight: 1},
	}
	tests := []struct {
		draw float64
		want string
	}{
		{0, "a"},
		{0.24, "a"},
		{0.25, "b"},
		{0.74, "b"},
		{0.75, "c"},
		{0.9999, "c"},
	}
	for _, tt := range tests {
		p, err := table.Select(tt.draw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Label, "draw %v", tt.draw)
	}
}

func TestPrizeTable_SelectRejectsBadInput(t *testing.T) {
	_, err := PrizeTable{}.Select(0.5)
	assert.ErrorIs(t, err, ErrEmptyTable)

	table := PrizeTable{{Label: "a", Amount: 1, Weight: 1}}
	_, err = table.Select(1)
	assert.ErrorIs(t, err, ErrInvalidDraw)
	_, err = table.Select(-0.1)
	assert.ErrorIs(t, err, ErrInvalidDraw)

	_, err = PrizeTable{{Label: "zero", Amount: 1, Weight: 0}}.Select(0.1)
	assert.Error(t, err)
}

func TestRandDrawer_SeedReproducible(t *testing.T) {
	a, b := NewRandDrawer(42), NewRandDrawer(42)
	for i := 0; i < 10; i++ {
		x := a.Float64()
		assert.Equal(t, x, b.Float64())
		assert.True(t, x >= 0 && x < 1)
	}
}
