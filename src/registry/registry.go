package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/amzoon/sync/src/store"
	"github.com/amzoon/sync/src/types"
)

// ErrDeviceNotFound means an operation referenced a device the user never
// registered. Caller error, not retried.
var ErrDeviceNotFound = errors.New("device not found")

// Registry owns the set of registered devices per user and the single
// active-device pointer per user. Pure logic over the store; no network code.
//
// Operations on the same user are serialized through a per-user lock so that
// concurrent register/setActive/heartbeat calls cannot interleave their
// read-modify-write cycles. Different users proceed in parallel.
type Registry struct {
	store   store.Store
	timeout time.Duration // heartbeat liveness window, advisory only
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	users map[string]*sync.Mutex
}

// New creates a registry over the given store. heartbeatTimeout bounds the
// IsLive annotation on listings; it never affects write authority.
func New(s store.Store, heartbeatTimeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		store:   s,
		timeout: heartbeatTimeout,
		logger:  logger.With().Str("component", "registry").Logger(),
		now:     time.Now,
		users:   make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the registry clock, for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// userLock returns the mutex for one user, creating it on first use.
func (r *Registry) userLock(userID string) *sync.Mutex {
	r.mu.RLock()
	l, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return l
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.users[userID]; ok {
		return l
	}
	l = &sync.Mutex{}
	r.users[userID] = l
	return l
}

func devicePath(userID, deviceID string) string {
	return "users/" + userID + "/devices/" + deviceID
}

func devicesPath(userID string) string { return "users/" + userID + "/devices" }

func activePath(userID string) string { return "users/" + userID + "/activeDevice" }

// Register upserts a device. Re-registering refreshes metadata and the
// heartbeat but preserves registered_at. Never changes the active device.
func (r *Registry) Register(ctx context.Context, userID, deviceID string, meta types.DeviceMetadata) (types.Device, error) {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	path := devicePath(userID, deviceID)

	var existing types.Device
	found, err := r.store.Get(ctx, path, &existing)
	if err != nil {
		return types.Device{}, err
	}

	dev := types.Device{
		DeviceID:        deviceID,
		UserID:          userID,
		Name:            meta.Name,
		Platform:        meta.Platform,
		UserAgent:       meta.UserAgent,
		RegisteredAt:    types.ServerTimestamp,
		LastHeartbeatAt: types.ServerTimestamp,
	}
	if found {
		dev.RegisteredAt = existing.RegisteredAt
	}

	if err := r.store.Set(ctx, path, dev); err != nil {
		return types.Device{}, err
	}
	// Read back so the caller sees the server-assigned timestamps.
	if _, err := r.store.Get(ctx, path, &dev); err != nil {
		return types.Device{}, err
	}

	r.logger.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("platform", meta.Platform).
		Bool("existing", found).
		Msg("device registered")
	return dev, nil
}

// SetActive atomically repoints the user's active device. Returns false if
// the device was never registered; the caller must register first.
func (r *Registry) SetActive(ctx context.Context, userID, deviceID string) (bool, error) {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	var dev types.Device
	found, err := r.store.Get(ctx, devicePath(userID, deviceID), &dev)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := r.store.Set(ctx, activePath(userID), deviceID); err != nil {
		return false, err
	}

	r.logger.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Msg("active device set")
	return true, nil
}

// GetActive returns the active device id, or "" if none was ever set.
func (r *Registry) GetActive(ctx context.Context, userID string) (string, error) {
	var id string
	if _, err := r.store.Get(ctx, activePath(userID), &id); err != nil {
		return "", err
	}
	return id, nil
}

// ListDevices returns a snapshot of the user's devices annotated with
// liveness and active flags, ordered oldest registration first. An unknown
// user yields an empty slice, not an error.
func (r *Registry) ListDevices(ctx context.Context, userID string) ([]types.DeviceView, error) {
	children, err := r.store.List(ctx, devicesPath(userID))
	if err != nil {
		return nil, err
	}
	active, err := r.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := make([]types.DeviceView, 0, len(children))
	for id, raw := range children {
		var dev types.Device
		if err := json.Unmarshal(raw, &dev); err != nil {
			return nil, fmt.Errorf("%w: decode device %s: %v", store.ErrStorage, id, err)
		}
		out = append(out, types.DeviceView{
			Device: dev,
			IsLive: dev.IsLive(now, r.timeout),
			Active: dev.DeviceID == active,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt != out[j].RegisteredAt {
			return out[i].RegisteredAt < out[j].RegisteredAt
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

// Heartbeat refreshes last_heartbeat_at. Returns false for an unknown
// device. Never affects active status.
func (r *Registry) Heartbeat(ctx context.Context, userID, deviceID string) (bool, error) {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	path := devicePath(userID, deviceID)
	var dev types.Device
	found, err := r.store.Get(ctx, path, &dev)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	err = r.store.Update(ctx, path, map[string]any{
		"last_heartbeat_at": types.ServerTimestamp,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ValidateControl reports whether deviceID is the user's active device.
// This is the single arbitration predicate: it ignores liveness, so a
// stale-but-active device stays authoritative until explicitly superseded.
func (r *Registry) ValidateControl(ctx context.Context, userID, deviceID string) (bool, error) {
	active, err := r.GetActive(ctx, userID)
	if err != nil {
		return false, err
	}
	return active != "" && active == deviceID, nil
}
