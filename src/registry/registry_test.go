package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amzoon/sync/src/store"
	"github.com/amzoon/sync/src/types"
)

type fixture struct {
	reg   *Registry
	store *store.MemoryStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		now:   time.UnixMilli(1_000_000),
	}
	f.store.SetClock(func() time.Time { return f.now })
	f.reg = New(f.store, time.Minute, zerolog.Nop())
	f.reg.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

var meta = types.DeviceMetadata{Name: "Pixel 8", Platform: "android", UserAgent: "okhttp"}

func TestRegisterIdempotentUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)
	assert.Equal(t, f.now.UnixMilli(), first.RegisteredAt)

	f.advance(10 * time.Second)
	again, err := f.reg.Register(ctx, "u1", "d1", types.DeviceMetadata{Name: "Pixel 8 Pro", Platform: "android"})
	require.NoError(t, err)

	// registered_at preserved, metadata and heartbeat refreshed.
	assert.Equal(t, first.RegisteredAt, again.RegisteredAt)
	assert.Equal(t, "Pixel 8 Pro", again.Name)
	assert.Equal(t, f.now.UnixMilli(), again.LastHeartbeatAt)

	devices, err := f.reg.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].DeviceID)
}

func TestRegisterDoesNotChangeActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)
	ok, err := f.reg.SetActive(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.reg.Register(ctx, "u1", "d2", meta)
	require.NoError(t, err)

	active, err := f.reg.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "d1", active)
}

func TestSetActiveUnknownDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)
	ok, err := f.reg.SetActive(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.reg.SetActive(ctx, "u1", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := f.reg.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "d1", active, "failed election must not move the pointer")
}

func TestSetActiveReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, "u1", "d2", meta)
	require.NoError(t, err)

	ok, err := f.reg.SetActive(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.reg.SetActive(ctx, "u1", "d2")
	require.NoError(t, err)
	require.True(t, ok)

	active, err := f.reg.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "d2", active)

	ctl, err := f.reg.ValidateControl(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.False(t, ctl)
	ctl, err = f.reg.ValidateControl(ctx, "u1", "d2")
	require.NoError(t, err)
	assert.True(t, ctl)
}

func TestValidateControlWithoutActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ctl, err := f.reg.ValidateControl(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.False(t, ctl)

	// An empty claimed id never wins either.
	ctl, err = f.reg.ValidateControl(ctx, "u1", "")
	require.NoError(t, err)
	assert.False(t, ctl)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.reg.Heartbeat(ctx, "u1", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)

	f.advance(30 * time.Second)
	ok, err = f.reg.Heartbeat(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	devices, err := f.reg.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, f.now.UnixMilli(), devices[0].LastHeartbeatAt)
}

func TestListDevicesLivenessAnnotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)

	devices, err := f.reg.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].IsLive)

	// Past the heartbeat window the device is stale but still listed.
	f.advance(2 * time.Minute)
	devices, err = f.reg.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].IsLive)
}

func TestListDevicesOrderAndActiveFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, "u1", "d2", meta)
	require.NoError(t, err)
	f.advance(time.Second)
	_, err = f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)
	ok, err := f.reg.SetActive(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	devices, err := f.reg.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "d2", devices[0].DeviceID, "oldest registration first")
	assert.False(t, devices[0].Active)
	assert.Equal(t, "d1", devices[1].DeviceID)
	assert.True(t, devices[1].Active)
}

func TestListDevicesUnknownUser(t *testing.T) {
	f := newFixture(t)

	devices, err := f.reg.ListDevices(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, devices)

	active, err := f.reg.GetActive(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestStaleActiveDeviceKeepsAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, "u1", "d1", meta)
	require.NoError(t, err)
	ok, err := f.reg.SetActive(ctx, "u1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	// Heartbeat long expired; control is unaffected.
	f.advance(time.Hour)
	ctl, err := f.reg.ValidateControl(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.True(t, ctl)
}
