package correlation

import (
	"math"
	"sync"
)

// Snapshot is the market/CDP state observed at one refresh.
type Snapshot struct {
	OpenInterest float64
	AverageICR   float64
}

// Tracker keeps the most recent snapshots in a bounded window and derives
// the change history between consecutive ones. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	capacity int
	window   []Snapshot
}

// NewTracker creates a tracker holding up to capacity snapshots (minimum 2).
func NewTracker(capacity int) *Tracker {
	if capacity < 2 {
		capacity = 2
	}
	return &Tracker{
		capacity: capacity,
		window:   make([]Snapshot, 0, capacity),
	}
}

// Observe appends a snapshot, evicting the oldest when full. Snapshots with
// a non-finite field are ignored and reported as not recorded.
func (t *Tracker) Observe(s Snapshot) bool {
	if !finite(s.OpenInterest) || !finite(s.AverageICR) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.window) == t.capacity {
		copy(t.window, t.window[1:])
		t.window = t.window[:len(t.window)-1]
	}
	t.window = append(t.window, s)
	return true
}

// History returns the change between each pair of consecutive snapshots.
func (t *Tracker) History() []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.window) < 2 {
		return nil
	}
	pairs := make([]Pair, 0, len(t.window)-1)
	for i := 1; i < len(t.window); i++ {
		pairs = append(pairs, Pair{
			X: t.window[i].OpenInterest - t.window[i-1].OpenInterest,
			Y: t.window[i].AverageICR - t.window[i-1].AverageICR,
		})
	}
	return pairs
}

// Len returns the number of snapshots held.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.window)
}

// Coefficient is Pearson over the current change history.
func (t *Tracker) Coefficient() float64 {
	return Pearson(t.History())
}

func finite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
