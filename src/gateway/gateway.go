package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/amzoon/sync/src/registry"
	"github.com/amzoon/sync/src/room"
	"github.com/amzoon/sync/src/store"
	"github.com/amzoon/sync/src/types"
)

// Result is the arbitration outcome of a playback mutation. Rejection is a
// normal negative outcome, not an error.
type Result int

const (
	Accepted Result = iota
	Rejected
)

func (r Result) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Gateway is the control point between devices and the shared playback
// state. Every playback mutation passes through it: the sender's claimed
// device must match the user's active device or the write is refused.
//
// A per-user lock spans validate, store write and broadcast enqueue, so the
// order of fan-out messages any connection observes matches the order writes
// hit the store. Different users never contend.
type Gateway struct {
	registry *registry.Registry
	store    store.Store
	room     *room.Room
	logger   zerolog.Logger

	mu    sync.RWMutex
	users map[string]*sync.Mutex
}

// New creates a gateway over the given registry, store and room.
func New(reg *registry.Registry, s store.Store, rm *room.Room, logger zerolog.Logger) *Gateway {
	return &Gateway{
		registry: reg,
		store:    s,
		room:     rm,
		logger:   logger.With().Str("component", "gateway").Logger(),
		users:    make(map[string]*sync.Mutex),
	}
}

func (g *Gateway) userLock(userID string) *sync.Mutex {
	g.mu.RLock()
	l, ok := g.users[userID]
	g.mu.RUnlock()
	if ok {
		return l
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok = g.users[userID]; ok {
		return l
	}
	l = &sync.Mutex{}
	g.users[userID] = l
	return l
}

func playbackPath(userID string) string { return "users/" + userID + "/playback/current" }

// ApplyPlaybackUpdate arbitrates one proposed mutation from sender, which
// claims to be deviceID. Accepted mutations are merged into the stored
// state and fanned out to every other connection of the user; the sender is
// excluded because it already holds the state locally. Rejections go back
// to the sender only, carrying the current active device id.
func (g *Gateway) ApplyPlaybackUpdate(ctx context.Context, sender *room.Client, userID, deviceID string, update types.PlaybackUpdate) (Result, error) {
	l := g.userLock(userID)
	l.Lock()
	defer l.Unlock()

	ok, err := g.registry.ValidateControl(ctx, userID, deviceID)
	if err != nil {
		return Rejected, err
	}
	if !ok {
		active, err := g.registry.GetActive(ctx, userID)
		if err != nil {
			return Rejected, err
		}
		g.logger.Debug().
			Str("user_id", userID).
			Str("device_id", deviceID).
			Str("active_device_id", active).
			Msg("playback update rejected")
		if sender != nil {
			g.room.SendTo(sender, types.ServerMessage{
				Type:           types.MsgControlledElsewhere,
				ActiveDeviceID: active,
				Message:        "Playback is controlled on another device",
			})
		}
		return Rejected, nil
	}

	state, err := g.mergeState(ctx, userID, update)
	if err != nil {
		return Rejected, err
	}

	g.logger.Debug().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("track_id", state.TrackID).
		Msg("playback state updated")
	g.room.Broadcast(userID, types.ServerMessage{
		Type:  types.MsgPlaybackStateUpdate,
		State: &state,
	}, sender)
	return Accepted, nil
}

// mergeState folds the non-nil update fields into the stored state, stamps
// updated_at server-side and returns the committed result.
func (g *Gateway) mergeState(ctx context.Context, userID string, update types.PlaybackUpdate) (types.PlaybackState, error) {
	path := playbackPath(userID)

	var state types.PlaybackState
	if _, err := g.store.Get(ctx, path, &state); err != nil {
		return types.PlaybackState{}, err
	}
	if update.TrackID != nil {
		state.TrackID = *update.TrackID
	}
	if update.PositionSec != nil {
		// Position is never negative in stored state.
		state.PositionSec = max(*update.PositionSec, 0)
	}
	if update.IsPlaying != nil {
		state.IsPlaying = *update.IsPlaying
	}
	state.UpdatedAt = types.ServerTimestamp

	if err := g.store.Set(ctx, path, state); err != nil {
		return types.PlaybackState{}, err
	}
	if _, err := g.store.Get(ctx, path, &state); err != nil {
		return types.PlaybackState{}, err
	}
	return state, nil
}

// SwitchActiveDevice repoints the user's active device and announces it to
// ALL of the user's connections, the requester included: old and new writer
// alike must learn the new authority independently. The broadcast goes out
// only after the registry committed the change, so a reconnecting device
// cannot observe a stale pointer.
func (g *Gateway) SwitchActiveDevice(ctx context.Context, userID, newDeviceID string) error {
	l := g.userLock(userID)
	l.Lock()
	defer l.Unlock()

	ok, err := g.registry.SetActive(ctx, userID, newDeviceID)
	if err != nil {
		return err
	}
	if !ok {
		return registry.ErrDeviceNotFound
	}

	g.room.Broadcast(userID, types.ServerMessage{
		Type:           types.MsgDeviceSwitched,
		ActiveDeviceID: newDeviceID,
		Message:        "Playback control switched to device " + newDeviceID,
	}, nil)
	return nil
}

// PlaybackState returns the stored playback state for a user, if any.
func (g *Gateway) PlaybackState(ctx context.Context, userID string) (types.PlaybackState, bool, error) {
	var state types.PlaybackState
	found, err := g.store.Get(ctx, playbackPath(userID), &state)
	return state, found, err
}
