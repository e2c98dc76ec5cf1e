package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amzoon/sync/src/types"
)

func TestMemorySetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	dev := types.Device{DeviceID: "d1", UserID: "u1", Name: "Pixel"}
	require.NoError(t, s.Set(ctx, "users/u1/devices/d1", dev))

	var out types.Device
	found, err := s.Get(ctx, "users/u1/devices/d1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "d1", out.DeviceID)
	assert.Equal(t, "Pixel", out.Name)

	found, err = s.Get(ctx, "users/u1/devices/missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryServerTimestamp(t *testing.T) {
	s := NewMemoryStore()
	now := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	dev := types.Device{
		DeviceID:        "d1",
		RegisteredAt:    types.ServerTimestamp,
		LastHeartbeatAt: types.ServerTimestamp,
	}
	require.NoError(t, s.Set(ctx, "users/u1/devices/d1", dev))

	var out types.Device
	_, err := s.Get(ctx, "users/u1/devices/d1", &out)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), out.RegisteredAt)
	assert.Equal(t, now.UnixMilli(), out.LastHeartbeatAt)
}

func TestSentinelLimitedToTimestampFields(t *testing.T) {
	s := NewMemoryStore()
	now := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	state := types.PlaybackState{
		TrackID:     "t1",
		PositionSec: -1,
		UpdatedAt:   types.ServerTimestamp,
	}
	require.NoError(t, s.Set(ctx, "users/u1/playback/current", state))

	var out types.PlaybackState
	_, err := s.Get(ctx, "users/u1/playback/current", &out)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), out.UpdatedAt)
	// A -1 outside the timestamp fields is data, not a sentinel.
	assert.Equal(t, -1.0, out.PositionSec)
}

func TestMemoryUpdateMerges(t *testing.T) {
	s := NewMemoryStore()
	now := time.UnixMilli(42_000)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/u1/devices/d1", map[string]any{
		"name":              "Pixel",
		"platform":          "android",
		"last_heartbeat_at": 1,
	}))
	require.NoError(t, s.Update(ctx, "users/u1/devices/d1", map[string]any{
		"last_heartbeat_at": types.ServerTimestamp,
	}))

	var out map[string]any
	_, err := s.Get(ctx, "users/u1/devices/d1", &out)
	require.NoError(t, err)
	assert.Equal(t, "Pixel", out["name"])
	assert.Equal(t, "android", out["platform"])
	assert.Equal(t, float64(42_000), out["last_heartbeat_at"])
}

func TestMemoryUpdateCreatesWhenAbsent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "users/u1/playback/current", map[string]any{
		"track_id": "t1",
	}))

	var out map[string]any
	found, err := s.Get(ctx, "users/u1/playback/current", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t1", out["track_id"])
}

func TestMemoryListImmediateChildrenOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/u1/devices/d1", map[string]any{"name": "a"}))
	require.NoError(t, s.Set(ctx, "users/u1/devices/d2", map[string]any{"name": "b"}))
	require.NoError(t, s.Set(ctx, "users/u1/devices/d2/nested", map[string]any{"name": "deep"}))
	require.NoError(t, s.Set(ctx, "users/u2/devices/d9", map[string]any{"name": "other"}))

	children, err := s.List(ctx, "users/u1/devices")
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.Contains(t, children, "d1")
	assert.Contains(t, children, "d2")
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "amzoon:sync:", cfg.Prefix)
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_KEY_PREFIX", "test:")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, "redis.internal:6380", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, "test:", cfg.Prefix)
}
