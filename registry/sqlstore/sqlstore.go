// Package sqlstore keeps the worker registry in a SQL database.
//
// Two tables are used. worker_node has one row per possible worker ID,
// seeded offline by Migrate, holding whether it is online, a free-form owner
// description (NULL until first claimed), the fencing token and the last
// heartbeat. worker_env records whether the worker is busy issuing IDs and
// since when.
//
// Claim locks every worker_node row in ID order, so concurrent claimers
// queue behind each other instead of racing.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/registry"
)

const claimAttempts = 5

type Option func(*Store)

// WithMaxWorkerID caps the IDs handed out, e.g. to 511 for dual-lane generators.
func WithMaxWorkerID(id uint16) Option {
	return func(s *Store) { s.maxWorkerID = id }
}

// WithStaleAfter lets Claim take over online rows whose heartbeat is older
// than d. Compare with registry.Keeper's interval; d should be several
// intervals long.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNow replaces time.Now. Timestamps are written from the caller's clock,
// not the database's.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

type Store struct {
	db          *sql.DB
	dialect     Dialect
	maxWorkerID uint16
	staleAfter  time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

var _ registry.Store = (*Store)(nil)

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:          db,
		dialect:     dialect,
		maxWorkerID: snowflake.MaxWorkerID,
		staleAfter:  30 * time.Second,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the registry tables if they do not exist and seeds one
// offline worker_node row per worker ID. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createNode); err != nil {
		return fmt.Errorf("sqlstore: create worker_node: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.createEnv); err != nil {
		return fmt.Errorf("sqlstore: create worker_env: %w", err)
	}

	const n = snowflake.MaxWorkerID + 1
	values := make([]string, n)
	args := make([]any, n)
	seeded := time.Unix(0, 0).UTC()
	for i := range values {
		values[i] = fmt.Sprintf("(%d, FALSE, '', ?)", i)
		args[i] = seeded
	}
	q := fmt.Sprintf(s.dialect.seedNodes, strings.Join(values, ", "))
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(q), args...); err != nil {
		return fmt.Errorf("sqlstore: seed worker_node: %w", err)
	}
	return nil
}

// Claim retries transient failures such as lock timeouts or deadlocks.
func (s *Store) Claim(ctx context.Context, owner string) (registry.Lease, error) {
	var err error
	for attempt := 1; attempt <= claimAttempts; attempt++ {
		var lease registry.Lease
		lease, err = s.claim(ctx, owner)
		if err == nil {
			s.logger.Info("worker claimed", zap.Uint16("worker_id", lease.WorkerID), zap.String("owner", owner))
			return lease, nil
		}
		if errors.Is(err, registry.ErrNoFreeWorker) || ctx.Err() != nil {
			return registry.Lease{}, err
		}
		s.logger.Debug("claim conflict", zap.Int("attempt", attempt), zap.Error(err))
	}
	return registry.Lease{}, err
}

func (s *Store) claim(ctx context.Context, owner string) (registry.Lease, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Lease{}, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	id, exists, err := s.pickFree(ctx, tx, now)
	if err != nil {
		return registry.Lease{}, err
	}

	lease := registry.Lease{
		WorkerID:  id,
		Owner:     owner,
		Token:     uuid.NewString(),
		ClaimedAt: now,
	}
	if exists {
		_, err = tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE worker_node SET is_online = ?, content = ?, token = ?, updated_at = ? WHERE worker_id = ?`),
			true, owner, lease.Token, now, id)
	} else {
		_, err = tx.ExecContext(ctx, s.dialect.rebind(
			`INSERT INTO worker_node (worker_id, is_online, content, token, updated_at) VALUES (?, ?, ?, ?, ?)`),
			id, true, owner, lease.Token, now)
	}
	if err != nil {
		return registry.Lease{}, fmt.Errorf("sqlstore: claim worker %d: %w", id, err)
	}
	if err := s.upsertEnv(ctx, tx, id, true, now); err != nil {
		return registry.Lease{}, err
	}
	if err := tx.Commit(); err != nil {
		return registry.Lease{}, fmt.Errorf("sqlstore: commit claim: %w", err)
	}
	return lease, nil
}

// pickFree locks every worker_node row and returns the lowest ID that is
// offline, has gone stale, or has no row at all.
func (s *Store) pickFree(ctx context.Context, tx *sql.Tx, now time.Time) (uint16, bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT worker_id, is_online, updated_at FROM worker_node ORDER BY worker_id FOR UPDATE`)
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: scan workers: %w", err)
	}
	defer rows.Close()

	type row struct {
		online bool
		seen   time.Time
	}
	taken := make(map[uint16]row)
	for rows.Next() {
		var (
			id int64
			r  row
		)
		if err := rows.Scan(&id, &r.online, &r.seen); err != nil {
			return 0, false, fmt.Errorf("sqlstore: scan workers: %w", err)
		}
		taken[uint16(id)] = r
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("sqlstore: scan workers: %w", err)
	}

	for id := 0; id <= int(s.maxWorkerID); id++ {
		r, ok := taken[uint16(id)]
		if !ok {
			return uint16(id), false, nil
		}
		if !r.online {
			return uint16(id), true, nil
		}
		if age := now.Sub(r.seen); age >= s.staleAfter {
			s.logger.Warn("reclaiming stale worker", zap.Int("worker_id", id), zap.Duration("age", age))
			return uint16(id), true, nil
		}
	}
	return 0, false, registry.ErrNoFreeWorker
}

func (s *Store) Heartbeat(ctx context.Context, l registry.Lease) error {
	return s.withLease(ctx, l, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE worker_node SET updated_at = ? WHERE worker_id = ?`), now, l.WorkerID)
		return err
	})
}

func (s *Store) SetBusy(ctx context.Context, l registry.Lease, busy bool) error {
	return s.withLease(ctx, l, func(tx *sql.Tx, now time.Time) error {
		return s.upsertEnv(ctx, tx, l.WorkerID, busy, now)
	})
}

func (s *Store) Release(ctx context.Context, l registry.Lease) error {
	err := s.withLease(ctx, l, func(tx *sql.Tx, now time.Time) error {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE worker_node SET is_online = ?, token = ?, updated_at = ? WHERE worker_id = ?`),
			false, "", now, l.WorkerID); err != nil {
			return err
		}
		return s.upsertEnv(ctx, tx, l.WorkerID, false, now)
	})
	if err == nil {
		s.logger.Info("worker released", zap.Uint16("worker_id", l.WorkerID))
	}
	return err
}

func (s *Store) Nodes(ctx context.Context) ([]registry.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.worker_id, n.is_online, n.content, n.updated_at, COALESCE(e.is_busy, FALSE)
		FROM worker_node n LEFT JOIN worker_env e ON e.id = n.worker_id
		WHERE n.content IS NOT NULL
		ORDER BY n.worker_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []registry.Node
	for rows.Next() {
		var (
			n       registry.Node
			id      int64
			content sql.NullString
		)
		if err := rows.Scan(&id, &n.Online, &content, &n.LastSeen, &n.Busy); err != nil {
			return nil, fmt.Errorf("sqlstore: list nodes: %w", err)
		}
		n.WorkerID = uint16(id)
		n.Owner = content.String
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list nodes: %w", err)
	}
	return nodes, nil
}

// withLease runs fn in a transaction after checking, under a row lock, that
// l still owns its worker ID.
func (s *Store) withLease(ctx context.Context, l registry.Lease, fn func(*sql.Tx, time.Time) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		online bool
		token  string
	)
	err = tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT is_online, token FROM worker_node WHERE worker_id = ? FOR UPDATE`), l.WorkerID).
		Scan(&online, &token)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return registry.ErrLeaseLost
	case err != nil:
		return fmt.Errorf("sqlstore: load worker %d: %w", l.WorkerID, err)
	case !online || token != l.Token:
		return registry.ErrLeaseLost
	}

	if err := fn(tx, s.now().UTC()); err != nil {
		return fmt.Errorf("sqlstore: update worker %d: %w", l.WorkerID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (s *Store) upsertEnv(ctx context.Context, tx *sql.Tx, id uint16, busy bool, now time.Time) error {
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertEnv), id, busy, now); err != nil {
		return fmt.Errorf("sqlstore: upsert worker_env %d: %w", id, err)
	}
	return nil
}
