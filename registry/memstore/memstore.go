// Package memstore is an in-process registry.Store. It only coordinates
// generators inside one process and is mostly useful in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/registry"
)

type Option func(*Store)

// WithMaxWorkerID caps the IDs handed out, e.g. to 511 for dual-lane generators.
func WithMaxWorkerID(id uint16) Option {
	return func(s *Store) { s.maxWorkerID = id }
}

// WithStaleAfter lets Claim take over IDs whose owner has not heartbeated for d.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

// WithNow replaces time.Now.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

type entry struct {
	registry.Node
	token string
}

type Store struct {
	mu          sync.Mutex
	nodes       map[uint16]*entry
	maxWorkerID uint16
	staleAfter  time.Duration
	now         func() time.Time
}

var _ registry.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		nodes:       make(map[uint16]*entry),
		maxWorkerID: snowflake.MaxWorkerID,
		staleAfter:  30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Claim(ctx context.Context, owner string) (registry.Lease, error) {
	if err := ctx.Err(); err != nil {
		return registry.Lease{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id := 0; id <= int(s.maxWorkerID); id++ {
		e, ok := s.nodes[uint16(id)]
		if ok && e.Online && now.Sub(e.LastSeen) < s.staleAfter {
			continue
		}
		lease := registry.Lease{
			WorkerID:  uint16(id),
			Owner:     owner,
			Token:     uuid.NewString(),
			ClaimedAt: now,
		}
		s.nodes[lease.WorkerID] = &entry{
			Node:  registry.Node{WorkerID: lease.WorkerID, Owner: owner, Online: true, Busy: true, LastSeen: now},
			token: lease.Token,
		}
		return lease, nil
	}
	return registry.Lease{}, registry.ErrNoFreeWorker
}

func (s *Store) Heartbeat(ctx context.Context, l registry.Lease) error {
	return s.withLease(ctx, l, func(e *entry) {
		e.LastSeen = s.now()
	})
}

func (s *Store) SetBusy(ctx context.Context, l registry.Lease, busy bool) error {
	return s.withLease(ctx, l, func(e *entry) {
		e.Busy = busy
		e.LastSeen = s.now()
	})
}

func (s *Store) Release(ctx context.Context, l registry.Lease) error {
	return s.withLease(ctx, l, func(e *entry) {
		e.Online = false
		e.Busy = false
		e.token = ""
		e.LastSeen = s.now()
	})
}

func (s *Store) Nodes(ctx context.Context) ([]registry.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]registry.Node, 0, len(s.nodes))
	for _, e := range s.nodes {
		out = append(out, e.Node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (s *Store) withLease(ctx context.Context, l registry.Lease, fn func(*entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes[l.WorkerID]
	if !ok || !e.Online || e.token != l.Token {
		return registry.ErrLeaseLost
	}
	fn(e)
	return nil
}
