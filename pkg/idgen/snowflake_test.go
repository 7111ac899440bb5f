package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsWorkerOutOfRange(t *testing.T) {
	_, err := New(1024)
	assert.Error(t, err)
	_, err = New(-1)
	assert.Error(t, err)
}

func TestNext_MonotonicAndUnique(t *testing.T) {
	g, err := New(3)
	require.NoError(t, err)

	const n = 5000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, n)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/10; j++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestNext_SequenceAndClockSkew(t *testing.T) {
	g, err := New(5)
	require.NoError(t, err)
	clock := epoch + 1000
	g.now = func() int64 { return clock }

	a := g.Next()
	b := g.Next()
	clock -= 10
	c := g.Next()

	assert.Less(t, a, b)
	assert.Less(t, b, c)

	_, worker, seq := Parse(c)
	assert.Equal(t, int64(5), worker)
	assert.Equal(t, int64(2), seq)
}

func TestEntryNo_Prefix(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)
	assert.Regexp(t, `^TXN\d+$`, g.EntryNo())
}
