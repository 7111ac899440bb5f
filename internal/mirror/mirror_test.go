package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHoldRollbackRestoresDisplay(t *testing.T) {
	m := New(100)
	h := m.Hold(30)
	assert.Equal(t, int64(70), m.Display())
	assert.Equal(t, int64(100), m.Confirmed())
	assert.Equal(t, int64(30), m.Pending())

	h.Rollback()
	h.Rollback()
	assert.Equal(t, int64(100), m.Display())
	assert.Equal(t, int64(0), m.Pending())
}

func TestReconcileThenRelease(t *testing.T) {
	m := New(100)
	h := m.Hold(30)
	m.Reconcile(70)
	h.Release()
	assert.Equal(t, int64(70), m.Display())
	assert.Equal(t, int64(70), m.Confirmed())
}

func TestReconcileOverwritesUnconditionally(t *testing.T) {
	m := New(100)
	m.Reconcile(5)
	assert.Equal(t, int64(5), m.Confirmed())
	m.Reconcile(500)
	assert.Equal(t, int64(500), m.Confirmed())
}

func TestDisplayFloorsAtZero(t *testing.T) {
	m := New(10)
	m.Hold(30)
	assert.Equal(t, int64(0), m.Display())
}

func TestSubscribeReceivesDisplayChanges(t *testing.T) {
	m := New(50)
	ch := m.Subscribe(4)
	h := m.Hold(20)
	assert.Equal(t, int64(30), <-ch)
	h.Rollback()
	assert.Equal(t, int64(50), <-ch)
	m.Reconcile(80)
	assert.Equal(t, int64(80), <-ch)
}

func TestSettleIsOneChange(t *testing.T) {
	m := New(100)
	ch := m.Subscribe(4)
	h := m.Hold(30)
	assert.Equal(t, int64(70), <-ch)

	h.Settle(70)
	assert.Equal(t, int64(70), <-ch)
	assert.Len(t, ch, 0)
	assert.Equal(t, int64(0), m.Pending())
	assert.Equal(t, int64(70), m.Confirmed())

	// a released hold still reconciles
	h.Settle(65)
	assert.Equal(t, int64(65), m.Display())
}
