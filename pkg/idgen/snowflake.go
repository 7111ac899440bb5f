// Package idgen generates time-ordered 64-bit ids and the ledger numbers
// derived from them.
//
// Layout: 1 sign bit, 41 bits of milliseconds since 2024-01-01 UTC, 10 bits
// worker id, 12 bits sequence within the millisecond.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	epoch          = int64(1704067200000)
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	now       func() int64
}

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("idgen: worker id must be within 0-%d", maxWorkerID)
	}
	return &Snowflake{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now < s.timestamp {
		// clock moved back; keep issuing on the last seen millisecond
		now = s.timestamp
	}
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// EntryNo formats a ledger entry number: "TXN" followed by a fresh id.
func (s *Snowflake) EntryNo() string {
	return fmt.Sprintf("TXN%d", s.Next())
}

func (s *Snowflake) WorkerID() int64 {
	return s.workerID
}

// Parse splits an id into its embedded time, worker and sequence.
func Parse(id int64) (time.Time, int64, int64) {
	ms := (id >> timestampShift) + epoch
	worker := (id >> workerIDShift) & maxWorkerID
	seq := id & maxSequence
	return time.UnixMilli(ms).UTC(), worker, seq
}
