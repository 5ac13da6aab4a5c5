package snowflake

import (
	"fmt"
	"sync"
)

// DefaultGenerator is used by New(). Set via SetWorkerID().
var DefaultGenerator = mustSync(0)

// SetWorkerID replaces the DefaultGenerator with one issuing for the given
// worker ID on DefaultEpoch. Call this once at startup before using New().
func SetWorkerID(workerID uint16) error {
	g, err := NewSyncGenerator(workerID, DefaultEpoch)
	if err != nil {
		return err
	}
	DefaultGenerator = g
	return nil
}

// New generates an ID using the DefaultGenerator.
func New() (ID, error) {
	return DefaultGenerator.Generate()
}

// MustNew is like New but panics on error.
func MustNew() ID {
	return Must(New())
}

func mustSync(workerID uint16) *SyncGenerator {
	g, err := NewSyncGenerator(workerID, DefaultEpoch)
	if err != nil {
		panic(err)
	}
	return g
}

// Source is anything that issues IDs.
type Source interface {
	Generate() (ID, error)
}

// lane is one issuing context: its own sequence, worker ID and last
// issued millisecond.
type lane struct {
	sequence      uint16
	workerID      uint16
	lastTimestamp int64
}

// pack lays out the lane's fields into an ID. timestamp must not precede epoch.
func (l *lane) pack(timestamp, epoch int64) int64 {
	return (timestamp-epoch)<<TimeShift |
		int64(l.workerID)<<WorkerShift |
		int64(l.sequence)
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithDualLane issues from two lanes, workerID and workerID+512, alternating
// per call. This doubles the per-millisecond capacity of a worker slot but
// restricts workerID to [0, 511]. IDs from different lanes are unique but
// not ordered relative to each other.
func WithDualLane() Option {
	return func(g *Generator) { g.dual = true }
}

// Generator issues IDs for a single worker. It is not safe for concurrent
// use; wrap it with Synchronized or build a SyncGenerator instead.
type Generator struct {
	epoch int64
	clock Clock
	dual  bool
	index int
	lanes [2]lane
}

func NewGenerator(workerID uint16, epoch int64, opts ...Option) (*Generator, error) {
	g := &Generator{
		epoch: epoch,
		clock: SystemClock,
	}
	for _, opt := range opts {
		opt(g)
	}

	limit := uint16(MaxWorkerID)
	if g.dual {
		limit = MaxWorkerID >> 1
	}
	if workerID > limit {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidWorkerID, workerID, limit)
	}

	g.lanes[0].workerID = workerID
	if g.dual {
		g.lanes[1].workerID = workerID + MaxWorkerID>>1 + 1
	}
	return g, nil
}

// WorkerID returns the worker ID of the primary lane.
func (g *Generator) WorkerID() uint16 { return g.lanes[0].workerID }

// Epoch returns the reference millisecond subtracted from every timestamp.
func (g *Generator) Epoch() int64 { return g.epoch }

// Lanes returns the number of lanes in use.
func (g *Generator) Lanes() int {
	if g.dual {
		return 2
	}
	return 1
}

// Generate returns the next ID. It fails with a *ClockRegressionError when
// the clock reads earlier than the lane's last issued millisecond, leaving
// the lane unchanged. When 4096 IDs have already been issued in the current
// millisecond it spins until the clock advances; there is no bound on that
// wait.
func (g *Generator) Generate() (ID, error) {
	l := &g.lanes[g.index]

	now := g.clock.NowMilli()
	if now < l.lastTimestamp {
		return Nil, &ClockRegressionError{Last: l.lastTimestamp, Now: now}
	}

	var seq uint16
	if now == l.lastTimestamp {
		seq = (l.sequence + 1) & MaxSequence
		if seq == 0 {
			now = g.tilNextMilli(l)
		}
	}

	if off := now - g.epoch; off < 0 || off > MaxOffset {
		return Nil, fmt.Errorf("%w: offset %dms from epoch %d", ErrTimestampOverflow, off, g.epoch)
	}

	l.sequence = seq
	l.lastTimestamp = now
	if g.dual {
		g.index ^= 1
	}
	return ID(l.pack(now, g.epoch)), nil
}

// tilNextMilli spins until the clock passes l's last issued millisecond.
func (g *Generator) tilNextMilli(l *lane) int64 {
	now := g.clock.NowMilli()
	for now <= l.lastTimestamp {
		now = g.clock.NowMilli()
	}
	return now
}

// SyncGenerator is a Generator guarded by a single mutex held for the whole
// Generate call. It is safe for concurrent use.
type SyncGenerator struct {
	mu  sync.Mutex
	gen *Generator
}

func NewSyncGenerator(workerID uint16, epoch int64, opts ...Option) (*SyncGenerator, error) {
	g, err := NewGenerator(workerID, epoch, opts...)
	if err != nil {
		return nil, err
	}
	return Synchronized(g), nil
}

// Synchronized takes ownership of g. g must not be used directly afterwards.
func Synchronized(g *Generator) *SyncGenerator {
	return &SyncGenerator{gen: g}
}

func (s *SyncGenerator) Generate() (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.Generate()
}

func (s *SyncGenerator) WorkerID() uint16 { return s.gen.WorkerID() }

func (s *SyncGenerator) Epoch() int64 { return s.gen.Epoch() }
