package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"camcoord/pkg/models"
	"camcoord/pkg/storage"
)

const (
	resourceKeyPrefix = "lease:res:"
	leaseIDKeyPrefix  = "lease:id:"

	// keyBackstop caps how long a dead record can linger if the sweep
	// never runs. Generous on purpose; versions stay monotonic as long
	// as the record outlives the sweep retention.
	keyBackstop = 24 * time.Hour
)

// RedisStore is the distributed-KV LeaseStore backend. Each mutation runs
// as a single Lua script, which Redis executes atomically, giving the same
// total order per resource the relational backend gets from row locks.
type RedisStore struct {
	client *redis.Client
}

// RedisStoreConfig holds Redis connection configuration.
type RedisStoreConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisStoreConfig returns production defaults.
func DefaultRedisStoreConfig(addr string) RedisStoreConfig {
	return RedisStoreConfig{
		Addr:         addr,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// acquireScript grants or denies in one atomic step. Returns
// {0, holder_id, lease_id, kind, version, expires_at} on denial,
// {1, version} on grant.
var acquireScript = redis.NewScript(`
local resKey = 'lease:res:' .. ARGV[1]
local now = tonumber(ARGV[5])
local cur = redis.call('HGETALL', resKey)
local f = {}
for i = 1, #cur, 2 do f[cur[i]] = cur[i + 1] end
if f['lease_id'] and tonumber(f['expires_at']) > now and f['holder_id'] ~= ARGV[2] then
  return {0, f['holder_id'], f['lease_id'], f['kind'], f['version'], f['expires_at']}
end
local version = 1
if f['lease_id'] then
  version = tonumber(f['version']) + 1
  redis.call('DEL', 'lease:id:' .. f['lease_id'])
end
local expires = now + tonumber(ARGV[4])
redis.call('HSET', resKey,
  'lease_id', ARGV[6], 'holder_id', ARGV[2], 'kind', ARGV[3],
  'version', version, 'expires_at', expires, 'updated_at', now)
redis.call('PEXPIRE', resKey, tonumber(ARGV[7]))
redis.call('SET', 'lease:id:' .. ARGV[6], ARGV[1], 'PX', tonumber(ARGV[7]))
return {1, version}
`)

// renewScript extends the lease iff the ID still names the live record.
// Returns {1, version, expires_at} or {0}.
var renewScript = redis.NewScript(`
local resource = redis.call('GET', 'lease:id:' .. ARGV[1])
if not resource then return {0} end
local resKey = 'lease:res:' .. resource
local now = tonumber(ARGV[3])
local f = {}
local cur = redis.call('HGETALL', resKey)
for i = 1, #cur, 2 do f[cur[i]] = cur[i + 1] end
if not f['lease_id'] or f['lease_id'] ~= ARGV[1] or tonumber(f['expires_at']) <= now then
  return {0}
end
local version = tonumber(f['version']) + 1
local expires = now + tonumber(ARGV[2])
redis.call('HSET', resKey, 'version', version, 'expires_at', expires, 'updated_at', now)
redis.call('PEXPIRE', resKey, tonumber(ARGV[4]))
redis.call('PEXPIRE', 'lease:id:' .. ARGV[1], tonumber(ARGV[4]))
return {1, version, expires, resource}
`)

// releaseScript expires the lease in place. Returns 1 when a live lease was
// released, 0 otherwise.
var releaseScript = redis.NewScript(`
local resource = redis.call('GET', 'lease:id:' .. ARGV[1])
if not resource then return 0 end
local resKey = 'lease:res:' .. resource
local now = tonumber(ARGV[2])
local f = {}
local cur = redis.call('HGETALL', resKey)
for i = 1, #cur, 2 do f[cur[i]] = cur[i + 1] end
if not f['lease_id'] or f['lease_id'] ~= ARGV[1] or tonumber(f['expires_at']) <= now then
  return 0
end
redis.call('HSET', resKey, 'expires_at', now, 'updated_at', now)
return 1
`)

// NewRedisStore initializes a Redis client with default config.
func NewRedisStore(addr string) (*RedisStore, error) {
	return NewRedisStoreWithConfig(DefaultRedisStoreConfig(addr))
}

// NewRedisStoreWithConfig initializes a Redis client with custom config.
func NewRedisStoreWithConfig(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// Client exposes the underlying connection so other Redis-backed components
// can share the pool.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Acquire(ctx context.Context, resourceID, holderID string, kind models.LeaseKind, ttl time.Duration) (*models.LeaseRecord, error) {
	now := time.Now()
	leaseID := uuid.New()

	raw, err := acquireScript.Run(ctx, s.client, nil,
		resourceID, holderID, string(kind),
		ttl.Milliseconds(), now.UnixMilli(), leaseID.String(),
		keyBackstop.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("acquire script failed: %w", err)
	}

	if asInt(raw[0]) == 0 {
		existingID, _ := uuid.Parse(asString(raw[2]))
		return nil, &storage.ConflictError{Existing: &models.LeaseRecord{
			LeaseID:    existingID,
			ResourceID: resourceID,
			HolderID:   asString(raw[1]),
			Kind:       models.LeaseKind(asString(raw[3])),
			Version:    asInt(raw[4]),
			ExpiresAt:  time.UnixMilli(asInt(raw[5])),
		}}
	}

	return &models.LeaseRecord{
		LeaseID:    leaseID,
		ResourceID: resourceID,
		HolderID:   holderID,
		Kind:       kind,
		ExpiresAt:  now.Add(ttl),
		Version:    asInt(raw[1]),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *RedisStore) Renew(ctx context.Context, leaseID uuid.UUID, ttl time.Duration) (*models.LeaseRecord, error) {
	now := time.Now()
	raw, err := renewScript.Run(ctx, s.client, nil,
		leaseID.String(), ttl.Milliseconds(), now.UnixMilli(), keyBackstop.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("renew script failed: %w", err)
	}
	if asInt(raw[0]) == 0 {
		return nil, storage.ErrNotFound
	}

	rec, err := s.Get(ctx, asString(raw[3]))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Release(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	released, err := releaseScript.Run(ctx, s.client, nil,
		leaseID.String(), time.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("release script failed: %w", err)
	}
	return released == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, resourceID string) (*models.LeaseRecord, error) {
	fields, err := s.client.HGetAll(ctx, resourceKeyPrefix+resourceID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}

	rec, err := recordFromHash(resourceID, fields)
	if err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.LeaseRecord, error) {
	var out []models.LeaseRecord
	now := time.Now()

	iter := s.client.Scan(ctx, 0, resourceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(key[len(resourceKeyPrefix):], fields)
		if err != nil {
			continue
		}
		if !rec.Expired(now) {
			out = append(out, *rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan leases: %w", err)
	}
	return out, nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	var purged int64

	iter := s.client.Scan(ctx, 0, resourceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
		if err != nil || expiresAt >= cutoff {
			continue
		}
		if err := s.client.Del(ctx, key, leaseIDKeyPrefix+fields["lease_id"]).Err(); err != nil {
			return purged, fmt.Errorf("failed to purge lease: %w", err)
		}
		purged++
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("failed to scan leases: %w", err)
	}
	return purged, nil
}

func recordFromHash(resourceID string, fields map[string]string) (*models.LeaseRecord, error) {
	leaseID, err := uuid.Parse(fields["lease_id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt lease record for %q: %w", resourceID, err)
	}
	version, _ := strconv.ParseInt(fields["version"], 10, 64)
	expiresAt, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(fields["updated_at"], 10, 64)

	return &models.LeaseRecord{
		LeaseID:    leaseID,
		ResourceID: resourceID,
		HolderID:   fields["holder_id"],
		Kind:       models.LeaseKind(fields["kind"]),
		Version:    version,
		ExpiresAt:  time.UnixMilli(expiresAt),
		UpdatedAt:  time.UnixMilli(updatedAt),
	}, nil
}

func asInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
