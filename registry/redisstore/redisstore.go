// Package redisstore keeps the worker registry in Redis.
//
// Each claimed worker ID is a hash at <prefix>:worker:<id> with fields
// token, owner, busy, since and seen, expiring after the configured TTL.
// Heartbeats extend the TTL; an owner that stops heartbeating loses its ID
// when the key expires. Every mutation checks the token in a Lua script so
// a stale owner cannot touch a reclaimed key.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/registry"
)

var (
	claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'owner', ARGV[2], 'busy', '1', 'since', ARGV[3], 'seen', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1`)

	heartbeatScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'seen', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1`)

	setBusyScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'busy', ARGV[2], 'since', ARGV[3], 'seen', ARGV[3])
return 1`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
	return 0
end
return redis.call('DEL', KEYS[1])`)
)

const (
	DefaultPrefix = "snowflake"
	DefaultTTL    = 10 * time.Second
)

type Option func(*Store)

func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL sets how long a claim survives without a heartbeat.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithMaxWorkerID caps the IDs handed out, e.g. to 511 for dual-lane generators.
func WithMaxWorkerID(id uint16) Option {
	return func(s *Store) { s.maxWorkerID = id }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

type Store struct {
	rdb         redis.UniversalClient
	prefix      string
	ttl         time.Duration
	maxWorkerID uint16
	logger      *zap.Logger
	now         func() time.Time
}

var _ registry.Store = (*Store)(nil)

func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:         rdb,
		prefix:      DefaultPrefix,
		ttl:         DefaultTTL,
		maxWorkerID: snowflake.MaxWorkerID,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id uint16) string {
	return s.prefix + ":worker:" + strconv.Itoa(int(id))
}

func (s *Store) Claim(ctx context.Context, owner string) (registry.Lease, error) {
	token := uuid.NewString()
	for id := 0; id <= int(s.maxWorkerID); id++ {
		now := s.now()
		ok, err := claimScript.Run(ctx, s.rdb, []string{s.key(uint16(id))},
			token, owner, now.UnixMilli(), s.ttl.Milliseconds()).Int()
		if err != nil {
			return registry.Lease{}, fmt.Errorf("redisstore: claim worker %d: %w", id, err)
		}
		if ok == 1 {
			s.logger.Info("worker claimed", zap.Int("worker_id", id), zap.String("owner", owner))
			return registry.Lease{WorkerID: uint16(id), Owner: owner, Token: token, ClaimedAt: now}, nil
		}
	}
	return registry.Lease{}, registry.ErrNoFreeWorker
}

func (s *Store) Heartbeat(ctx context.Context, l registry.Lease) error {
	return s.run(ctx, heartbeatScript, l, s.now().UnixMilli(), s.ttl.Milliseconds())
}

func (s *Store) SetBusy(ctx context.Context, l registry.Lease, busy bool) error {
	flag := "0"
	if busy {
		flag = "1"
	}
	return s.run(ctx, setBusyScript, l, flag, s.now().UnixMilli())
}

func (s *Store) Release(ctx context.Context, l registry.Lease) error {
	if err := s.run(ctx, releaseScript, l); err != nil {
		return err
	}
	s.logger.Info("worker released", zap.Uint16("worker_id", l.WorkerID))
	return nil
}

// run executes a token-checked script; a zero result means the lease is gone.
func (s *Store) run(ctx context.Context, script *redis.Script, l registry.Lease, args ...any) error {
	res, err := script.Run(ctx, s.rdb, []string{s.key(l.WorkerID)}, append([]any{l.Token}, args...)...).Int()
	if err != nil {
		return fmt.Errorf("redisstore: worker %d: %w", l.WorkerID, err)
	}
	if res == 0 {
		return registry.ErrLeaseLost
	}
	return nil
}

// Nodes scans for worker keys. Released or expired workers are absent.
func (s *Store) Nodes(ctx context.Context) ([]registry.Node, error) {
	prefix := s.prefix + ":worker:"
	var nodes []registry.Node
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 16)
		if err != nil {
			continue
		}
		fields, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: read %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue // expired between SCAN and HGETALL
		}
		seen, _ := strconv.ParseInt(fields["seen"], 10, 64)
		nodes = append(nodes, registry.Node{
			WorkerID: uint16(id),
			Owner:    fields["owner"],
			Online:   true,
			Busy:     fields["busy"] == "1",
			LastSeen: time.UnixMilli(seen),
		})
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisstore: scan: %w", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].WorkerID < nodes[j].WorkerID })
	return nodes, nil
}
