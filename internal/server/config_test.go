package server

import (
	"testing"
	"time"
)

// TestNewConfig verifies the default configuration.
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != ":27015" {
		t.Errorf("Expected port :27015, got %s", cfg.Port)
	}
	if cfg.HTTPPort != ":8080" {
		t.Errorf("Expected HTTP port :8080, got %s", cfg.HTTPPort)
	}
	if cfg.MaxClients != 10 || cfg.MaxRooms != 10 || cfg.MaxRoomMembers != 10 {
		t.Errorf("Unexpected capacities: %d clients, %d rooms, %d members", cfg.MaxClients, cfg.MaxRooms, cfg.MaxRoomMembers)
	}
	if cfg.MaxTransfers != 3 {
		t.Errorf("Expected 3 transfer slots, got %d", cfg.MaxTransfers)
	}
	if cfg.StorageDir != "files" {
		t.Errorf("Expected storage dir files, got %s", cfg.StorageDir)
	}
}

// TestSanitizeConfig verifies that unusable values are replaced by defaults.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		MaxClients:   -1,
		WriteTimeout: -time.Second,
	})

	if cfg.Port != defaultPort {
		t.Errorf("Expected default port, got %q", cfg.Port)
	}
	if cfg.HTTPPort != "" {
		t.Errorf("Expected HTTP to stay disabled, got %q", cfg.HTTPPort)
	}
	if cfg.MaxClients != defaultMaxClients || cfg.MaxRooms != defaultMaxRooms {
		t.Errorf("Expected default capacities, got %d clients and %d rooms", cfg.MaxClients, cfg.MaxRooms)
	}
	if cfg.WriteTimeout != defaultWriteTimeout {
		t.Errorf("Expected default write timeout, got %s", cfg.WriteTimeout)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected rate limit %+v", cfg.RateLimit)
	}

	zeroTimeout := sanitizeConfig(Config{WriteTimeout: 0})
	if zeroTimeout.WriteTimeout != 0 {
		t.Errorf("A zero write timeout disables deadlines and must be kept, got %s", zeroTimeout.WriteTimeout)
	}
}

// TestNewConfigFromEnv verifies that environment variables override the
// defaults and that invalid values are ignored.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("HTTP_PORT", "off")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_CLIENTS", "25")
	t.Setenv("MAX_ROOMS", "not-a-number")
	t.Setenv("MAX_UPLOAD_SIZE", "2048")
	t.Setenv("STORAGE_DIR", "/tmp/chat-files")
	t.Setenv("WRITE_TIMEOUT", "3")
	t.Setenv("RATE_LIMIT_BURST", "0")

	cfg := NewConfigFromEnv()

	if cfg.Port != ":9000" {
		t.Errorf("Expected port :9000, got %s", cfg.Port)
	}
	if cfg.HTTPPort != "" {
		t.Errorf("Expected HTTP disabled, got %s", cfg.HTTPPort)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.MaxClients != 25 {
		t.Errorf("Expected 25 clients, got %d", cfg.MaxClients)
	}
	if cfg.MaxRooms != defaultMaxRooms {
		t.Errorf("Invalid MAX_ROOMS should be ignored, got %d", cfg.MaxRooms)
	}
	if cfg.MaxUploadSize != 2048 {
		t.Errorf("Expected upload limit 2048, got %d", cfg.MaxUploadSize)
	}
	if cfg.StorageDir != "/tmp/chat-files" {
		t.Errorf("Unexpected storage dir %s", cfg.StorageDir)
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Errorf("Expected 3s write timeout, got %s", cfg.WriteTimeout)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Errorf("Invalid burst should be ignored, got %d", cfg.RateLimit.Burst)
	}
}

// TestSanitizeConfigClampsUploadSize verifies that the in-memory upload
// limit cannot be raised past its ceiling.
func TestSanitizeConfigClampsUploadSize(t *testing.T) {
	tests := []struct {
		name string
		size uint64
		want uint64
	}{
		{"unset", 0, defaultMaxUploadSize},
		{"within limit", 4096, 4096},
		{"at limit", maxUploadSizeLimit, maxUploadSizeLimit},
		{"huge", 1 << 62, maxUploadSizeLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeConfig(Config{MaxUploadSize: tt.size}).MaxUploadSize; got != tt.want {
				t.Errorf("MaxUploadSize %d sanitized to %d, want %d", tt.size, got, tt.want)
			}
		})
	}

	t.Setenv("MAX_UPLOAD_SIZE", "18446744073709551615")
	s, err := NewServer(&Config{MaxUploadSize: NewConfigFromEnv().MaxUploadSize, StorageDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if got := s.Config().MaxUploadSize; got != maxUploadSizeLimit {
		t.Errorf("Expected server upload limit %d, got %d", maxUploadSizeLimit, got)
	}
}
