package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-automation"
)

// redisLoadStatsScript reads the stats hash in one round trip.
// KEYS[1] = stats key
var redisLoadStatsScript = redis.NewScript(`
local state = redis.call("HMGET", KEYS[1], "total", "success", "fail", "last_run_at_ms", "version")
return {
	tonumber(state[1]) or 0,
	tonumber(state[2]) or 0,
	tonumber(state[3]) or 0,
	tonumber(state[4]) or 0,
	tonumber(state[5]) or 0
}
`)

// redisCASStatsScript writes the stats hash when the stored version matches.
// KEYS[1] = stats key
// ARGV[1] = expected version
// ARGV[2] = total, ARGV[3] = success, ARGV[4] = fail, ARGV[5] = last run (unix ms, 0 for none)
// Returns the new version, or -1 on conflict.
var redisCASStatsScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], "version")) or 0
local expected = tonumber(ARGV[1])
if current ~= expected then
	return -1
end
local next = current + 1
redis.call("HSET", KEYS[1],
	"total", ARGV[2],
	"success", ARGV[3],
	"fail", ARGV[4],
	"last_run_at_ms", ARGV[5],
	"version", next)
return next
`)

// RedisStatsStore keeps rule stats in Redis hashes so several engine
// processes can share counters. Rule and execution data stay in the
// primary store.
type RedisStatsStore struct {
	client    redis.Scripter
	keyPrefix string
}

// NewRedisStatsStore builds a stats store on any scripting-capable client.
func NewRedisStatsStore(client redis.Scripter, keyPrefix string) *RedisStatsStore {
	if keyPrefix == "" {
		keyPrefix = "automation:stats:"
	}
	return &RedisStatsStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStatsStore) LoadStats(ctx context.Context, ruleID string) (automation.Stats, int, error) {
	res, err := redisLoadStatsScript.Run(ctx, s.client, []string{s.key(ruleID)}).Int64Slice()
	if err != nil {
		return automation.Stats{}, 0, fmt.Errorf("redis load stats: %w", err)
	}
	if len(res) != 5 {
		return automation.Stats{}, 0, fmt.Errorf("redis load stats: unexpected reply length %d", len(res))
	}
	stats := automation.Stats{
		TotalRuns:    res[0],
		SuccessCount: res[1],
		FailCount:    res[2],
	}
	if res[3] > 0 {
		t := time.UnixMilli(res[3]).UTC()
		stats.LastRunAt = &t
	}
	return stats, int(res[4]), nil
}

func (s *RedisStatsStore) UpdateStatsIfVersion(ctx context.Context, ruleID string, stats automation.Stats, expectedVersion int) (int, error) {
	var lastRun int64
	if stats.LastRunAt != nil {
		lastRun = stats.LastRunAt.UnixMilli()
	}
	next, err := redisCASStatsScript.Run(ctx, s.client, []string{s.key(ruleID)},
		expectedVersion,
		stats.TotalRuns,
		stats.SuccessCount,
		stats.FailCount,
		lastRun,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis update stats: %w", err)
	}
	if next < 0 {
		return 0, ErrVersionConflict
	}
	return int(next), nil
}

func (s *RedisStatsStore) key(ruleID string) string {
	return s.keyPrefix + strings.TrimSpace(ruleID)
}
