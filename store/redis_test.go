package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisStatsStore_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisStatsStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	s := NewRedisStatsStore(client, "automation:test:")
	ruleID := uuid.NewString()
	defer client.Del(ctx, s.key(ruleID))

	stats, version, err := s.LoadStats(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.Nil(t, stats.LastRunAt)

	now := time.Now().UTC().Truncate(time.Millisecond)
	stats.TotalRuns = 1
	stats.FailCount = 1
	stats.LastRunAt = &now

	v, err := s.UpdateStatsIfVersion(ctx, ruleID, stats, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = s.UpdateStatsIfVersion(ctx, ruleID, stats, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	loaded, version, err := s.LoadStats(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.EqualValues(t, 1, loaded.FailCount)
	require.NotNil(t, loaded.LastRunAt)
	assert.True(t, now.Equal(*loaded.LastRunAt))
}
