// Package server provides configuration helpers that define runtime defaults,
// validation, and capacity limits for the chat server.
package server

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-session chat rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration: listen addresses, table capacities,
// transfer limits and security controls.
type Config struct {
	Port            string
	HTTPPort        string
	AllowedOrigins  []string
	MaxClients      int
	MaxRooms        int
	MaxRoomMembers  int
	MaxTransfers    int
	MaxUploadSize   uint64
	StorageDir      string
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitConfig
}

const (
	defaultPort            = ":27015"
	defaultHTTPPort        = ":8080"
	defaultMaxClients      = 10
	defaultMaxRooms        = 10
	defaultMaxRoomMembers  = 10
	defaultMaxTransfers    = 3
	defaultMaxUploadSize   = 10 << 20
	maxUploadSizeLimit     = 1 << 30
	defaultStorageDir      = "files"
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port:     defaultPort,
		HTTPPort: defaultHTTPPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxClients:      defaultMaxClients,
		MaxRooms:        defaultMaxRooms,
		MaxRoomMembers:  defaultMaxRoomMembers,
		MaxTransfers:    defaultMaxTransfers,
		MaxUploadSize:   defaultMaxUploadSize,
		StorageDir:      defaultStorageDir,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// sanitizeConfig replaces every unusable value with its default. HTTPPort is
// left empty when explicitly disabled.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaultMaxClients
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = defaultMaxRooms
	}
	if cfg.MaxRoomMembers <= 0 {
		cfg.MaxRoomMembers = defaultMaxRoomMembers
	}
	if cfg.MaxTransfers <= 0 {
		cfg.MaxTransfers = defaultMaxTransfers
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	// uploads are buffered in memory until complete
	if cfg.MaxUploadSize > maxUploadSizeLimit {
		log.Printf("Warning: upload size limit %d exceeds %d bytes; clamping", cfg.MaxUploadSize, maxUploadSizeLimit)
		cfg.MaxUploadSize = maxUploadSizeLimit
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = defaultStorageDir
	}
	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// loading a .env file first when one exists.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or could not be loaded")
	}

	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	// HTTP_PORT may be set to "off" to disable the HTTP/WebSocket listener
	if httpPort, ok := os.LookupEnv("HTTP_PORT"); ok {
		if strings.EqualFold(httpPort, "off") {
			cfg.HTTPPort = ""
		} else if httpPort != "" {
			cfg.HTTPPort = httpPort
		}
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if v := os.Getenv("MAX_CLIENTS"); v != "" {
		cfg.MaxClients = parseIntValue(v, cfg.MaxClients)
	}
	if v := os.Getenv("MAX_ROOMS"); v != "" {
		cfg.MaxRooms = parseIntValue(v, cfg.MaxRooms)
	}
	if v := os.Getenv("MAX_ROOM_MEMBERS"); v != "" {
		cfg.MaxRoomMembers = parseIntValue(v, cfg.MaxRoomMembers)
	}
	if v := os.Getenv("MAX_TRANSFERS"); v != "" {
		cfg.MaxTransfers = parseIntValue(v, cfg.MaxTransfers)
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		cfg.MaxUploadSize = parseUploadSize(v, cfg.MaxUploadSize)
	}
	if dir := os.Getenv("STORAGE_DIR"); dir != "" {
		cfg.StorageDir = dir
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseSeconds(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		cfg.ShutdownTimeout = parseSeconds(v, cfg.ShutdownTimeout)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseUploadSize(value string, defaultValue uint64) uint64 {
	if size, err := strconv.ParseUint(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
