package config

import (
	"os"
	"strconv"
	"time"
)

// SyncConfig holds playback sync server configuration.
type SyncConfig struct {
	ListenAddr       string        // HTTP listen address
	HeartbeatTimeout time.Duration // liveness window for device listings
	SendBufferSize   int           // per-connection outbound queue length
	ReadBufferSize   int           // WebSocket read buffer bytes
	WriteBufferSize  int           // WebSocket write buffer bytes
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *SyncConfig {
	return &SyncConfig{
		ListenAddr:       ":8000",
		HeartbeatTimeout: 60 * time.Second,
		SendBufferSize:   256,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// FromEnv loads configuration from environment variables, falling back to
// defaults for any missing values.
func FromEnv() *SyncConfig {
	cfg := DefaultConfig()

	if addr := os.Getenv("SYNC_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if s := os.Getenv("SYNC_HEARTBEAT_TIMEOUT_SEC"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
			cfg.HeartbeatTimeout = time.Duration(sec) * time.Second
		}
	}
	if s := os.Getenv("SYNC_SEND_BUFFER"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.SendBufferSize = n
		}
	}
	if s := os.Getenv("SYNC_READ_BUFFER"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.ReadBufferSize = n
		}
	}
	if s := os.Getenv("SYNC_WRITE_BUFFER"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.WriteBufferSize = n
		}
	}
	return cfg
}
