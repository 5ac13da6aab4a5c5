package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 3 * time.Second
	defaultReleaseTimeout    = 5 * time.Second
)

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

func WithInterval(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.interval = d }
}

func WithLogger(l *zap.Logger) KeeperOption {
	return func(k *Keeper) { k.logger = l }
}

// WithOnLost registers fn to be called once when the lease is lost. The
// owner must stop issuing IDs for the lease's worker ID.
func WithOnLost(fn func(Lease, error)) KeeperOption {
	return func(k *Keeper) { k.onLost = fn }
}

// WithBackOff sets the retry policy for a failed heartbeat. Each tick
// builds a fresh policy.
func WithBackOff(fn func() backoff.BackOff) KeeperOption {
	return func(k *Keeper) { k.newBackOff = fn }
}

// Keeper heartbeats a lease until its context is cancelled, then releases it.
type Keeper struct {
	store      Store
	lease      Lease
	interval   time.Duration
	logger     *zap.Logger
	onLost     func(Lease, error)
	newBackOff func() backoff.BackOff
}

func NewKeeper(store Store, lease Lease, opts ...KeeperOption) *Keeper {
	k := &Keeper{
		store:    store,
		lease:    lease,
		interval: DefaultHeartbeatInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.newBackOff == nil {
		interval := k.interval
		k.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = interval / 10
			b.MaxInterval = interval / 2
			b.MaxElapsedTime = interval
			return b
		}
	}
	k.logger = k.logger.With(zap.Uint16("worker_id", lease.WorkerID), zap.String("owner", lease.Owner))
	return k
}

// Run blocks until ctx is done or the lease is lost. On cancellation it
// releases the lease and returns nil; on loss it returns ErrLeaseLost.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("heartbeat started", zap.Duration("interval", k.interval))
	for {
		select {
		case <-ctx.Done():
			return k.release(ctx)
		case <-ticker.C:
		}

		err := k.beat(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrLeaseLost):
			k.logger.Error("worker lease lost", zap.Error(err))
			if k.onLost != nil {
				k.onLost(k.lease, err)
			}
			return err
		case ctx.Err() != nil:
			return k.release(ctx)
		default:
			// the next tick tries again; the lease may still expire server side
			k.logger.Warn("heartbeat failed", zap.Error(err))
		}
	}
}

func (k *Keeper) beat(ctx context.Context) error {
	op := func() error {
		err := k.store.Heartbeat(ctx, k.lease)
		if errors.Is(err, ErrLeaseLost) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		k.logger.Debug("heartbeat retry", zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.RetryNotify(op, backoff.WithContext(k.newBackOff(), ctx), notify)
}

func (k *Keeper) release(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReleaseTimeout)
	defer cancel()
	if err := k.store.Release(rctx, k.lease); err != nil && !errors.Is(err, ErrLeaseLost) {
		k.logger.Warn("release failed", zap.Error(err))
		return err
	}
	k.logger.Info("worker released")
	return nil
}
