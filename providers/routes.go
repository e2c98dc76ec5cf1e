package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/amzoon/sync/config"
	"github.com/amzoon/sync/src/registry"
	"github.com/amzoon/sync/src/room"
	"github.com/amzoon/sync/src/service"
	"github.com/amzoon/sync/src/store"
	"github.com/amzoon/sync/src/types"
)

// Provider exposes the sync service over HTTP and WebSocket.
type Provider struct {
	service  *service.Service
	upgrader websocket.FastHTTPUpgrader
	logger   zerolog.Logger
}

// NewProvider creates the transport provider for the given service.
func NewProvider(svc *service.Service, cfg *config.SyncConfig, logger zerolog.Logger) *Provider {
	return &Provider{
		service: svc,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
		},
		logger: logger.With().Str("component", "http").Logger(),
	}
}

type registerRequest struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	UserAgent  string `json:"user_agent"`
}

type setActiveRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// RegisterRoutes registers the device management and info routes via Fiber.
// The WebSocket upgrade uses FastHTTPHandler, registered at the app level
// since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *Provider) RegisterRoutes(app fiber.Router) {
	app.Post("/devices/register", p.handleRegister)
	app.Post("/devices/set-active", p.handleSetActive)
	app.Get("/devices/list", p.handleListDevices)
	app.Post("/devices/heartbeat", p.handleHeartbeat)
	app.Get("/ws/info", p.handleInfo)
}

func (p *Provider) handleRegister(c fiber.Ctx) error {
	var req registerRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.DeviceID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id and device_id are required")
	}

	dev, err := p.service.OnRegister(c.Context(), req.UserID, req.DeviceID, types.DeviceMetadata{
		Name:      req.DeviceName,
		Platform:  req.Platform,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return p.mapError(err)
	}
	return c.JSON(fiber.Map{
		"status":    "registered",
		"device_id": dev.DeviceID,
		"device":    dev,
	})
}

func (p *Provider) handleSetActive(c fiber.Ctx) error {
	var req setActiveRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.DeviceID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id and device_id are required")
	}

	if err := p.service.OnSetActive(c.Context(), req.UserID, req.DeviceID); err != nil {
		return p.mapError(err)
	}
	return c.JSON(fiber.Map{
		"status":    "active_device_set",
		"device_id": req.DeviceID,
	})
}

func (p *Provider) handleListDevices(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id is required")
	}

	devices, active, err := p.service.OnListDevices(c.Context(), userID)
	if err != nil {
		return p.mapError(err)
	}
	return c.JSON(fiber.Map{
		"devices":          devices,
		"active_device_id": active,
	})
}

func (p *Provider) handleHeartbeat(c fiber.Ctx) error {
	userID := c.Query("user_id")
	deviceID := c.Query("device_id")
	if userID == "" || deviceID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id and device_id are required")
	}

	ok, err := p.service.OnHeartbeat(c.Context(), userID, deviceID)
	if err != nil {
		return p.mapError(err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Device not found")
	}
	return c.JSON(fiber.Map{"status": "heartbeat_updated"})
}

func (p *Provider) handleInfo(c fiber.Ctx) error {
	rm := p.service.Room()
	return c.JSON(fiber.Map{
		"websocket":   true,
		"endpoint":    "/ws/{user_id}",
		"users":       rm.UserCount(),
		"connections": rm.TotalConnections(),
	})
}

func (p *Provider) mapError(err error) error {
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Device not found")
	case errors.Is(err, store.ErrStorage):
		return fiber.NewError(fiber.StatusServiceUnavailable, "storage unavailable")
	default:
		return err
	}
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Register this on the fasthttp server for "/ws/" paths.
func (p *Provider) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		userID := strings.TrimPrefix(string(ctx.Path()), "/ws/")
		if userID == "" || strings.Contains(userID, "/") {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString(`{"error":"bad_request","message":"user id required in path"}`)
			return
		}

		svc := p.service
		logger := p.logger

		err := p.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := svc.OnConnect(userID, &fasthttpConn{conn})
			go client.WritePump()
			client.ReadPump(
				func(c *room.Client, msg types.ClientMessage) {
					svc.OnMessage(context.Background(), c, msg)
				},
				func() { svc.OnDisconnect(client) },
			)
		})
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) ReadJSON(v any) error  { return f.conn.ReadJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }
