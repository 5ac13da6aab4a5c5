// Package registry hands out worker IDs to generator instances and tracks
// their liveness.
//
// A Store records which worker IDs are claimed, by whom, and when the owner
// last proved it was alive. Claims are fenced by a random token: an instance
// that stops heartbeating long enough to have its ID reclaimed gets
// ErrLeaseLost on its next call and must stop issuing IDs.
//
// Typical startup:
//
//	gen, lease, err := registry.Acquire(ctx, store, hostname, snowflake.DefaultEpoch)
//	if err != nil { ... }
//	keeper := registry.NewKeeper(store, lease, registry.WithLogger(logger))
//	go keeper.Run(ctx)
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paraglidehq/snowflake"
)

var (
	ErrNoFreeWorker = errors.New("registry: no free worker ID")
	ErrLeaseLost    = errors.New("registry: worker lease lost")
)

// Lease is a claimed worker ID. Token fences the claim against takeover.
type Lease struct {
	WorkerID  uint16
	Owner     string
	Token     string
	ClaimedAt time.Time
}

// Node is one registered worker as seen by the store.
type Node struct {
	WorkerID uint16
	Owner    string
	Online   bool
	Busy     bool
	LastSeen time.Time
}

// Store allocates worker IDs and records liveness.
type Store interface {
	// Claim takes the lowest worker ID that is free or whose owner stopped
	// heartbeating. It returns ErrNoFreeWorker when none is available.
	Claim(ctx context.Context, owner string) (Lease, error)
	// Heartbeat refreshes the lease. ErrLeaseLost means another instance
	// now owns the worker ID.
	Heartbeat(ctx context.Context, l Lease) error
	// SetBusy records whether the owner is actively issuing IDs.
	SetBusy(ctx context.Context, l Lease, busy bool) error
	// Release gives the worker ID back.
	Release(ctx context.Context, l Lease) error
	// Nodes lists registered workers ordered by worker ID.
	Nodes(ctx context.Context) ([]Node, error)
}

// Acquire claims a worker ID from store and builds a concurrency-safe
// generator for it. The lease is released again if the generator cannot be
// built, e.g. when the store hands out an ID above the dual-lane limit.
func Acquire(ctx context.Context, store Store, owner string, epoch int64, opts ...snowflake.Option) (*snowflake.SyncGenerator, Lease, error) {
	lease, err := store.Claim(ctx, owner)
	if err != nil {
		return nil, Lease{}, err
	}
	gen, err := snowflake.NewSyncGenerator(lease.WorkerID, epoch, opts...)
	if err != nil {
		if rerr := store.Release(ctx, lease); rerr != nil {
			err = errors.Join(err, fmt.Errorf("registry: release worker %d: %w", lease.WorkerID, rerr))
		}
		return nil, Lease{}, err
	}
	return gen, lease, nil
}
