package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/amzoon/sync/config"
	"github.com/amzoon/sync/providers"
	"github.com/amzoon/sync/src/gateway"
	"github.com/amzoon/sync/src/registry"
	"github.com/amzoon/sync/src/room"
	"github.com/amzoon/sync/src/service"
	"github.com/amzoon/sync/src/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.FromEnv()
	st := initStore(logger)

	reg := registry.New(st, cfg.HeartbeatTimeout, logger)
	rm := room.New(logger)
	gw := gateway.New(reg, st, rm, logger)
	svc := service.New(reg, gw, rm, cfg.SendBufferSize, logger)
	prov := providers.NewProvider(svc, cfg, logger)

	app := fiber.New()
	app.Use(cors.New())

	app.Get("/", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Welcome to Amzoon Music API"})
	})
	app.Get("/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": "1.0.0"})
	})
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	prov.RegisterRoutes(app)

	// Fiber v3 does not expose *fasthttp.RequestCtx, so the WebSocket
	// upgrade is dispatched ahead of the Fiber handler.
	wsHandler := prov.FastHTTPHandler()
	fiberHandler := app.Handler()
	server := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if strings.HasPrefix(string(ctx.Path()), "/ws/") {
				wsHandler(ctx)
				return
			}
			fiberHandler(ctx)
		},
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("sync server listening")
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		if err := server.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}

	if rs, ok := st.(*store.RedisStore); ok {
		if err := rs.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}
}

// initStore connects the Redis-backed store, falling back to the in-memory
// store when Redis is unreachable. Memory mode loses device and playback
// records on restart; it exists for local development.
func initStore(logger zerolog.Logger) store.Store {
	rcfg := store.RedisConfigFromEnv()
	rs := store.NewRedisStore(rcfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory store")
		return store.NewMemoryStore()
	}
	logger.Info().Str("redis_addr", rcfg.Addr).Msg("redis store connected")
	return rs
}
