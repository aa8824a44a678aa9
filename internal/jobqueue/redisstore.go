package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aifleet/corelib/internal/corelog"
)

// RedisConfig configures a RedisStore's connection pool.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string // key prefix, e.g. "corelib:"
	DefaultTTL   time.Duration
	DialTimeout  time.Duration
	MaxConns     int
	PingTimeout  time.Duration
}

// RedisStore is the Store implementation backed by Redis, matching the
// persisted state layout: job:{id}, queue:pending, set:processing,
// index:status:{status}, index:tenant:{tenant}, index:user:{user}.
type RedisStore struct {
	rdb        *goredis.Client
	prefix     string
	defaultTTL time.Duration
	log        *corelog.Logger
}

// NewRedisStore dials Redis and verifies connectivity with Ping before
// returning, so construction fails fast per the configuration/invariant
// error tier.
func NewRedisStore(cfg RedisConfig, log *corelog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("jobqueue: redis addr required")
	}
	if log == nil {
		log = corelog.Noop()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
		PoolSize:    cfg.MaxConns,
	})

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("jobqueue: redis ping: %w", err)
	}

	return &RedisStore{
		rdb:        rdb,
		prefix:     cfg.Prefix,
		defaultTTL: ttl,
		log:        log.With("component", "jobqueue.RedisStore"),
	}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) jobKey(id string) string      { return s.prefix + "job:" + id }
func (s *RedisStore) pendingKey() string           { return s.prefix + "queue:pending" }
func (s *RedisStore) processingKey() string        { return s.prefix + "set:processing" }
func (s *RedisStore) indexKey(index string) string { return s.prefix + "index:" + index }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) SaveJob(ctx context.Context, job *Job) error {
	ttl := job.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal job %s: %w", job.ID, err)
	}
	return s.rdb.Set(ctx, s.jobKey(job.ID), raw, ttl).Err()
}

func (s *RedisStore) LoadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := s.rdb.Get(ctx, s.jobKey(id)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("jobqueue: unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.jobKey(id)).Err()
}

func (s *RedisStore) JobTTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, s.jobKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue: ttl %s: %w", id, err)
	}
	return ttl, nil
}

func (s *RedisStore) EnqueuePending(ctx context.Context, id string) error {
	return s.rdb.RPush(ctx, s.pendingKey(), id).Err()
}

func (s *RedisStore) PopPending(ctx context.Context) (string, error) {
	id, err := s.rdb.LPop(ctx, s.pendingKey()).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("jobqueue: lpop pending: %w", err)
	}
	return id, nil
}

func (s *RedisStore) RemovePending(ctx context.Context, id string) error {
	return s.rdb.LRem(ctx, s.pendingKey(), 0, id).Err()
}

func (s *RedisStore) AddProcessing(ctx context.Context, id string) error {
	return s.rdb.SAdd(ctx, s.processingKey(), id).Err()
}

func (s *RedisStore) RemoveProcessing(ctx context.Context, id string) error {
	return s.rdb.SRem(ctx, s.processingKey(), id).Err()
}

func (s *RedisStore) AddIndex(ctx context.Context, index, id string) error {
	return s.rdb.SAdd(ctx, s.indexKey(index), id).Err()
}

func (s *RedisStore) RemoveIndex(ctx context.Context, index, id string) error {
	return s.rdb.SRem(ctx, s.indexKey(index), id).Err()
}

func (s *RedisStore) IndexMembers(ctx context.Context, index string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.indexKey(index)).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: smembers %s: %w", index, err)
	}
	return members, nil
}

func (s *RedisStore) AllJobIDs(ctx context.Context) ([]string, error) {
	pattern := s.jobKey("*")
	prefixLen := len(s.prefix) + len("job:")
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("jobqueue: scan jobs: %w", err)
		}
		for _, key := range keys {
			if len(key) >= prefixLen {
				ids = append(ids, key[prefixLen:])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}
