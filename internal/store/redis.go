package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kiranshivaraju/keyserver/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "keyserver:"

// Each license is a hash; a sorted set scored by created_at (unix micros)
// indexes them for listing. Every mutation that touches more than one field
// or key runs as a Lua script so Redis applies it atomically.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1`)

	recordUsageScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'active') ~= '1' then return 0 end
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if exp and tonumber(exp) < tonumber(ARGV[1]) then return 0 end
redis.call('HINCRBY', KEYS[1], 'usage_count', 1)
redis.call('HSET', KEYS[1], 'last_used_at', ARGV[1])
return 1`)

	setActiveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'active', ARGV[1])
return 1`)

	deleteScript = redis.NewScript(`
local n = redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return n`)
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every Redis key. Default: "keyserver:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// RedisStore implements Store using go-redis/v9.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new RedisStore from a Redis URL.
func NewRedisStore(redisURL string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	s := &RedisStore{client: redis.NewClient(ropts), prefix: defaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) licenseKey(key string) string { return s.prefix + "license:" + key }
func (s *RedisStore) indexKey() string             { return s.prefix + "licenses:by_created" }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close(_ context.Context) error {
	return s.client.Close()
}

func (s *RedisStore) CreateLicense(ctx context.Context, l *models.License) error {
	args := []any{l.Key, l.CreatedAt.UnixMicro()}
	args = append(args, encodeLicense(l)...)
	created, err := createScript.Run(ctx, s.client,
		[]string{s.licenseKey(l.Key), s.indexKey()}, args...).Int()
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	if created == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (s *RedisStore) GetLicense(ctx context.Context, key string) (*models.License, error) {
	fields, err := s.client.HGetAll(ctx, s.licenseKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	l, err := decodeLicense(key, fields)
	if err != nil {
		return nil, fmt.Errorf("decode license %s: %w", key, err)
	}
	return l, nil
}

func (s *RedisStore) ListLicenses(ctx context.Context) ([]*models.License, error) {
	keys, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.licenseKey(k))
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("list licenses: %w", err)
		}
	}

	licenses := make([]*models.License, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// deleted between the index read and the hash read
			continue
		}
		l, err := decodeLicense(keys[i], fields)
		if err != nil {
			return nil, fmt.Errorf("decode license %s: %w", keys[i], err)
		}
		licenses = append(licenses, l)
	}

	sort.SliceStable(licenses, func(i, j int) bool {
		if !licenses[i].CreatedAt.Equal(licenses[j].CreatedAt) {
			return licenses[i].CreatedAt.After(licenses[j].CreatedAt)
		}
		return licenses[i].Key < licenses[j].Key
	})
	return licenses, nil
}

func (s *RedisStore) RecordUsage(ctx context.Context, key string, at time.Time) error {
	ok, err := recordUsageScript.Run(ctx, s.client,
		[]string{s.licenseKey(key)}, at.UnixMicro()).Int()
	if err != nil {
		return fmt.Errorf("record license usage: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) SetActive(ctx context.Context, key string, active bool) error {
	ok, err := setActiveScript.Run(ctx, s.client,
		[]string{s.licenseKey(key)}, boolField(active)).Int()
	if err != nil {
		return fmt.Errorf("set license active: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) DeleteLicense(ctx context.Context, key string) error {
	n, err := deleteScript.Run(ctx, s.client,
		[]string{s.licenseKey(key), s.indexKey()}, key).Int()
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// encodeLicense flattens a license into HSET field/value pairs. Absent
// optional fields are left out of the hash entirely.
func encodeLicense(l *models.License) []any {
	fields := []any{
		"active", boolField(l.Active),
		"created_at", l.CreatedAt.UnixMicro(),
		"usage_count", l.UsageCount,
	}
	if l.ExpiresAt != nil {
		fields = append(fields, "expires_at", l.ExpiresAt.UnixMicro())
	}
	if l.LastUsedAt != nil {
		fields = append(fields, "last_used_at", l.LastUsedAt.UnixMicro())
	}
	if l.Notes != nil {
		fields = append(fields, "notes", *l.Notes)
	}
	return fields
}

func decodeLicense(key string, fields map[string]string) (*models.License, error) {
	l := &models.License{Key: key, Active: fields["active"] == "1"}

	created, err := parseMicros(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	l.CreatedAt = created

	if v, ok := fields["expires_at"]; ok {
		t, err := parseMicros(v)
		if err != nil {
			return nil, fmt.Errorf("expires_at: %w", err)
		}
		l.ExpiresAt = &t
	}
	if v, ok := fields["last_used_at"]; ok {
		t, err := parseMicros(v)
		if err != nil {
			return nil, fmt.Errorf("last_used_at: %w", err)
		}
		l.LastUsedAt = &t
	}
	if v, ok := fields["usage_count"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("usage_count: %w", err)
		}
		l.UsageCount = n
	}
	if v, ok := fields["notes"]; ok {
		l.Notes = &v
	}
	return l, nil
}

func parseMicros(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
