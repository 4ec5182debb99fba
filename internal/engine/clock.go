package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
)

// Clock issues processing times. Times are strictly increasing at
// microsecond resolution, even when the wall clock stalls or steps back.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	now  func() time.Time
	last atomic.Int64 // unix microseconds
}

// NewClock creates a clock reading now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// NewClockAt creates a clock that never issues a time at or before start.
// Used to resume after the processing times already in a store.
func NewClockAt(start time.Time, now func() time.Time) *Clock {
	c := NewClock(now)
	if !start.IsZero() {
		c.last.Store(ir.Normalize(start).UnixMicro())
	}
	return c
}

// ResumeClock creates a clock positioned after the latest processing time
// recorded in s.
func ResumeClock(ctx context.Context, s *store.Store, now func() time.Time) (*Clock, error) {
	var last time.Time
	err := s.View(ctx, func(tx *store.Tx) error {
		var err error
		last, err = tx.LastProcessingTime(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewClockAt(last, now), nil
}

// Next returns the next processing time.
func (c *Clock) Next() time.Time {
	for {
		last := c.last.Load()
		next := max(ir.Normalize(c.now()).UnixMicro(), last+1)
		if c.last.CompareAndSwap(last, next) {
			return ir.FromMicros(next)
		}
	}
}

// Current returns the last issued time without advancing.
func (c *Clock) Current() time.Time {
	return ir.FromMicros(c.last.Load())
}
