// Package metrics collects the per-worker DP and backtrace counters and
// merges them into shared totals under a caller-supplied lock.
package metrics

// Counters holds one worker's running totals. A worker owns its own
// Counters and increments them directly with no locking; Merge folds
// them into a shared total.
type Counters struct {
	DP      uint64 // DP fills started
	DPSat   uint64 // DP fills that hit lane saturation, at most once per fill
	DPFail  uint64 // DP fills whose best score fell short of the read's min_score: no valid alignment
	DPSucc  uint64 // DP fills whose best score met or exceeded the read's min_score

	Col      uint64 // columns processed
	Cell     uint64 // logical cells visited during the forward fill
	Inner    uint64 // rows revisited during a lazy-F fixup pass
	Fixup    uint64 // lazy-F fixup passes performed
	GathCell uint64 // cells inspected while harvesting the best score
	GathSol  uint64 // best-score updates recorded during harvesting

	BT      uint64 // backtrace walks attempted
	BTFail  uint64 // backtrace walks that dead-ended before reaching an origin
	BTSucc  uint64 // backtrace walks that reached an origin
	BTCell  uint64 // steps on the paths of all successful backtrace walks
}

// Add accumulates other into c, field by field.
func (c *Counters) Add(other Counters) {
	c.DP += other.DP
	c.DPSat += other.DPSat
	c.DPFail += other.DPFail
	c.DPSucc += other.DPSucc
	c.Col += other.Col
	c.Cell += other.Cell
	c.Inner += other.Inner
	c.Fixup += other.Fixup
	c.GathCell += other.GathCell
	c.GathSol += other.GathSol
	c.BT += other.BT
	c.BTFail += other.BTFail
	c.BTSucc += other.BTSucc
	c.BTCell += other.BTCell
}

// Reset zeroes all counters so a worker's scratch Counters can be
// reused across reads without reallocating.
func (c *Counters) Reset() {
	*c = Counters{}
}

// Merger folds worker-local Counters into a shared total under a
// mutex owned by the caller, not by Merger itself: a workerpool of N
// workers shares one Merger and one *sync.Mutex supplied at
// construction, so the lock's lifetime and identity stay visible at
// the call site instead of being hidden inside this package.
type Merger struct {
	mu    Locker
	total Counters
}

// Locker is the subset of sync.Mutex this package depends on, so
// callers can pass in a *sync.Mutex (or *sync.RWMutex via its
// Lock/Unlock methods) without this package importing sync itself
// beyond what's needed for the interface.
type Locker interface {
	Lock()
	Unlock()
}

// NewMerger builds a Merger that serializes merges through lock.
func NewMerger(lock Locker) *Merger {
	return &Merger{mu: lock}
}

// Merge folds a worker's local counters into the shared total.
func (m *Merger) Merge(c Counters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Add(c)
}

// Snapshot returns a copy of the current shared total.
func (m *Merger) Snapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
