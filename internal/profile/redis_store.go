package profile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatshield/pkg/models"
)

// RedisConfig configures Redis access for profile persistence.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	TTL        time.Duration
	HistoryCap int
}

// upsertScript merges one observation into the profile keys and returns the
// resulting profile. It runs atomically on the server, so concurrent writers
// to one key never conflict.
//
// KEYS: state hash, vectors set, tools set, levels list.
// ARGV: observed-at (unix micros), level, history cap, ttl (ms), vector
// count, vectors..., tools...
var upsertScript = redis.NewScript(`
local at = tonumber(ARGV[1])
local first = redis.call('HGET', KEYS[1], 'first_seen')
if (not first) or at < tonumber(first) then
  redis.call('HSET', KEYS[1], 'first_seen', ARGV[1])
end
local last = redis.call('HGET', KEYS[1], 'last_seen')
if (not last) or at > tonumber(last) then
  redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
end
local count = redis.call('HINCRBY', KEYS[1], 'attack_count', 1)

local nvec = tonumber(ARGV[5])
for i = 6, 5 + nvec do
  redis.call('SADD', KEYS[2], ARGV[i])
end
for i = 6 + nvec, #ARGV do
  redis.call('SADD', KEYS[3], ARGV[i])
end

redis.call('RPUSH', KEYS[4], ARGV[2])
redis.call('LTRIM', KEYS[4], -tonumber(ARGV[3]), -1)

for i = 1, 4 do
  redis.call('PEXPIRE', KEYS[i], ARGV[4])
end

return {
  count,
  redis.call('HGET', KEYS[1], 'first_seen'),
  redis.call('HGET', KEYS[1], 'last_seen'),
  redis.call('SMEMBERS', KEYS[2]),
  redis.call('SMEMBERS', KEYS[3]),
  redis.call('LRANGE', KEYS[4], 0, -1),
}
`)

// RedisStore keeps each profile as a counter hash plus vector and tool sets
// and a capped level list. Upserts run as one server-side script.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	historyCap int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis profile store: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns it.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "threatshield"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	return &RedisStore{
		client:     client,
		prefix:     strings.TrimSpace(cfg.KeyPrefix),
		ttl:        cfg.TTL,
		historyCap: cfg.HistoryCap,
	}
}

// Upsert merges the observation into the stored profile and refreshes its TTL.
func (s *RedisStore) Upsert(ctx context.Context, obs Observation) (*models.AttackerProfile, error) {
	vectors := obs.Vectors.Sorted()
	tools := obs.Tools.Sorted()

	args := make([]interface{}, 0, 5+len(vectors)+len(tools))
	args = append(args,
		strconv.FormatInt(obs.ObservedAt.UnixMicro(), 10),
		obs.Level.String(),
		s.historyCap,
		s.ttl.Milliseconds(),
		len(vectors),
	)
	for _, v := range vectors {
		args = append(args, v)
	}
	for _, t := range tools {
		args = append(args, t)
	}

	res, err := upsertScript.Run(ctx, s.client, s.keys(obs.Key), args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", obs.Key, err)
	}
	p, err := decodeScriptReply(obs.Key, res)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", obs.Key, err)
	}
	return p, nil
}

// Get reads a profile from one MULTI/EXEC snapshot.
func (s *RedisStore) Get(ctx context.Context, key string) (*models.AttackerProfile, error) {
	keys := s.keys(key)
	var (
		state   *redis.MapStringStringCmd
		vectors *redis.StringSliceCmd
		tools   *redis.StringSliceCmd
		levels  *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		state = pipe.HGetAll(ctx, keys[0])
		vectors = pipe.SMembers(ctx, keys[1])
		tools = pipe.SMembers(ctx, keys[2])
		levels = pipe.LRange(ctx, keys[3], 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", key, err)
	}

	hash := state.Val()
	if len(hash) == 0 {
		return nil, nil
	}
	count, err := strconv.ParseInt(hash["attack_count"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: decode attack_count: %w", key, err)
	}
	p, err := buildProfile(key, count, hash["first_seen"], hash["last_seen"], vectors.Val(), tools.Val(), levels.Val())
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", key, err)
	}
	return p, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) keys(key string) []string {
	base := s.prefix + ":profile:" + key
	return []string{base, base + ":vectors", base + ":tools", base + ":levels"}
}

func decodeScriptReply(key string, res []interface{}) (*models.AttackerProfile, error) {
	if len(res) != 6 {
		return nil, fmt.Errorf("unexpected script reply of %d elements", len(res))
	}
	count, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected attack_count %T", res[0])
	}
	first, _ := res[1].(string)
	last, _ := res[2].(string)
	return buildProfile(key, count, first, last, stringsOf(res[3]), stringsOf(res[4]), stringsOf(res[5]))
}

func buildProfile(key string, count int64, first, last string, vectors, tools, levels []string) (*models.AttackerProfile, error) {
	p := &models.AttackerProfile{
		Key:                key,
		AttackCount:        count,
		Vectors:            models.NewStringSet(vectors...),
		Tools:              models.NewStringSet(tools...),
		ThreatLevelHistory: make([]models.ThreatLevel, 0, len(levels)),
	}
	var err error
	if p.FirstSeen, err = parseMicros(first); err != nil {
		return nil, fmt.Errorf("decode first_seen: %w", err)
	}
	if p.LastSeen, err = parseMicros(last); err != nil {
		return nil, fmt.Errorf("decode last_seen: %w", err)
	}
	for _, raw := range levels {
		level, err := models.ParseThreatLevel(raw)
		if err != nil {
			return nil, err
		}
		p.ThreatLevelHistory = append(p.ThreatLevelHistory, level)
	}
	return p, nil
}

func parseMicros(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}

func stringsOf(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
