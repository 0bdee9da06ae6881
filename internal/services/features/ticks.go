package features

import (
	"sort"

	"TickPilot/internal/domain/models"
)

// TickBuffer is a bounded, epoch-ordered tick window for one account.
// It is not safe for concurrent use; the owning session serializes access.
type TickBuffer struct {
	ticks []models.Tick
	max   int
}

// NewTickBuffer creates a buffer holding at most max ticks.
func NewTickBuffer(max int) *TickBuffer {
	if max <= 0 {
		max = 5000
	}
	return &TickBuffer{ticks: make([]models.Tick, 0, 256), max: max}
}

// Add inserts a tick keeping epoch order. A tick whose epoch is already
// buffered is dropped and Add returns false.
func (b *TickBuffer) Add(t models.Tick) bool {
	n := len(b.ticks)
	if n == 0 || t.Epoch > b.ticks[n-1].Epoch {
		b.ticks = append(b.ticks, t)
	} else {
		i := sort.Search(n, func(i int) bool { return b.ticks[i].Epoch >= t.Epoch })
		if i < n && b.ticks[i].Epoch == t.Epoch {
			return false
		}
		b.ticks = append(b.ticks, models.Tick{})
		copy(b.ticks[i+1:], b.ticks[i:])
		b.ticks[i] = t
	}
	if len(b.ticks) > b.max {
		b.ticks = append(b.ticks[:0], b.ticks[len(b.ticks)-b.max:]...)
	}
	return true
}

// Evict drops ticks older than cutoff (epoch seconds) and returns how many
// were removed.
func (b *TickBuffer) Evict(cutoff int64) int {
	i := sort.Search(len(b.ticks), func(i int) bool { return b.ticks[i].Epoch >= cutoff })
	if i == 0 {
		return 0
	}
	b.ticks = append(b.ticks[:0], b.ticks[i:]...)
	return i
}

// Snapshot returns a copy of the buffered ticks.
func (b *TickBuffer) Snapshot() []models.Tick {
	out := make([]models.Tick, len(b.ticks))
	copy(out, b.ticks)
	return out
}

// Len returns the number of buffered ticks.
func (b *TickBuffer) Len() int { return len(b.ticks) }

// Reset empties the buffer.
func (b *TickBuffer) Reset() { b.ticks = b.ticks[:0] }
