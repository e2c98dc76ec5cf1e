package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amzoon/sync/src/gateway"
	"github.com/amzoon/sync/src/registry"
	"github.com/amzoon/sync/src/room"
	"github.com/amzoon/sync/src/types"
)

// Service is the high-level playback sync API consumed by the transport
// layer. One method per endpoint operation; transports stay free of domain
// logic.
type Service struct {
	registry *registry.Registry
	gateway  *gateway.Gateway
	room     *room.Room
	sendBuf  int
	logger   zerolog.Logger
}

// New creates a service over the assembled core. sendBuf sizes each
// connection's outbound queue.
func New(reg *registry.Registry, gw *gateway.Gateway, rm *room.Room, sendBuf int, logger zerolog.Logger) *Service {
	return &Service{
		registry: reg,
		gateway:  gw,
		room:     rm,
		sendBuf:  sendBuf,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// Room returns the underlying connection room.
func (s *Service) Room() *room.Room { return s.room }

// OnRegister upserts a device for a user.
func (s *Service) OnRegister(ctx context.Context, userID, deviceID string, meta types.DeviceMetadata) (types.Device, error) {
	return s.registry.Register(ctx, userID, deviceID, meta)
}

// OnSetActive elects a device as the user's sole playback writer and
// announces the switch to every live connection. Returns
// registry.ErrDeviceNotFound for a device that was never registered.
func (s *Service) OnSetActive(ctx context.Context, userID, deviceID string) error {
	return s.gateway.SwitchActiveDevice(ctx, userID, deviceID)
}

// OnHeartbeat refreshes a device's liveness stamp. Returns false for an
// unknown device.
func (s *Service) OnHeartbeat(ctx context.Context, userID, deviceID string) (bool, error) {
	return s.registry.Heartbeat(ctx, userID, deviceID)
}

// OnListDevices returns the user's devices plus the current active id.
func (s *Service) OnListDevices(ctx context.Context, userID string) ([]types.DeviceView, string, error) {
	devices, err := s.registry.ListDevices(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	active, err := s.registry.GetActive(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return devices, active, nil
}

// OnConnect wraps an accepted socket in a Client and joins it to the user's
// room. The returned client's pumps are the caller's to run.
func (s *Service) OnConnect(userID string, conn types.Conn) *room.Client {
	c := room.NewClient(uuid.New().String(), userID, conn, s.sendBuf)
	s.room.Join(c)
	return c
}

// OnDisconnect removes a connection from its room. Registration and
// active-device state survive; only the transport session ends here.
func (s *Service) OnDisconnect(c *room.Client) {
	s.room.Leave(c)
}

// OnMessage routes one client message. Playback mutations go through
// arbitration; any other client-defined type (presence pings and the like)
// is relayed to the user's other connections as-is. Types the server itself
// emits are dropped so a client cannot spoof arbitration traffic.
func (s *Service) OnMessage(ctx context.Context, c *room.Client, msg types.ClientMessage) {
	switch msg.Type {
	case types.MsgPlaybackUpdate:
		update := types.PlaybackUpdate{}
		if msg.State != nil {
			update = *msg.State
		}
		res, err := s.gateway.ApplyPlaybackUpdate(ctx, c, c.UserID, msg.DeviceID, update)
		if err != nil {
			s.logger.Error().Err(err).
				Str("user_id", c.UserID).
				Str("device_id", msg.DeviceID).
				Msg("playback update failed")
			return
		}
		s.logger.Debug().
			Str("user_id", c.UserID).
			Str("device_id", msg.DeviceID).
			Str("result", res.String()).
			Msg("playback update handled")

	case types.MsgPlaybackStateUpdate, types.MsgControlledElsewhere, types.MsgDeviceSwitched:
		s.logger.Warn().
			Str("user_id", c.UserID).
			Str("type", msg.Type).
			Msg("ignoring client message with server-reserved type")

	default:
		s.room.Broadcast(c.UserID, types.ServerMessage{
			Type: msg.Type,
			Data: msg.Data,
		}, c)
	}
}
