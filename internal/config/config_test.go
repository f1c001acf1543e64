package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"classbook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
database:
  path: "${CLASSBOOK_TEST_DB}"
booking:
  hold_window: 90m
  auto_approve_enabled: false
waitlist:
  sweep_enabled: true
  sweep_interval: 30s
api:
  auth:
    api_keys:
      - key: "k1"
        name: "frontdesk"
        permissions: ["write:bookings"]
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	t.Setenv("CLASSBOOK_TEST_DB", "test.db")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected database path test.db, got %s", cfg.Database.Path)
	}
	if cfg.Booking.HoldWindow != 90*time.Minute {
		t.Errorf("expected hold window 90m, got %s", cfg.Booking.HoldWindow)
	}
	if cfg.Booking.AutoApprove() {
		t.Errorf("expected auto approve to be disabled")
	}
	if cfg.Waitlist.SweepInterval != 30*time.Second {
		t.Errorf("expected sweep interval 30s, got %s", cfg.Waitlist.SweepInterval)
	}
	if len(cfg.API.Auth.APIKeys) != 1 || cfg.API.Auth.APIKeys[0].Name != "frontdesk" {
		t.Errorf("expected 1 api key named frontdesk")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Path: "path"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative hold window", mutate: func(c *Config) { c.Booking.HoldWindow = -time.Minute }, wantErr: true},
		{name: "negative auto approve threshold", mutate: func(c *Config) { c.Booking.AutoApproveHours = -1 }, wantErr: true},
		{
			name: "sweep without interval",
			mutate: func(c *Config) {
				c.Waitlist.SweepEnabled = true
				c.Waitlist.SweepInterval = 0
			},
			wantErr: true,
		},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "a", Name: "one"}, {Key: "a", Name: "two"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Booking.HoldWindow != models.DefaultHoldWindow {
		t.Errorf("expected default hold window %s, got %s", models.DefaultHoldWindow, cfg.Booking.HoldWindow)
	}
	if cfg.Booking.AutoApproveHours != models.DefaultAutoApproveHours {
		t.Errorf("expected default auto approve hours %d, got %v", models.DefaultAutoApproveHours, cfg.Booking.AutoApproveHours)
	}
	if !cfg.Booking.AutoApprove() {
		t.Errorf("expected auto approve enabled by default")
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.API.Auth.HeaderUserID != "x-user-id" {
		t.Errorf("expected default user header x-user-id, got %s", cfg.API.Auth.HeaderUserID)
	}

	policy := cfg.Booking.DefaultCancellationPolicy()
	if policy.HoursBefore != 6 || policy.RescheduleHoursBefore != 3 || policy.PenaltyPercentage != 0 {
		t.Errorf("unexpected default policy: %+v", policy)
	}
	if !policy.IsDefault() {
		t.Errorf("expected default policy to have zero id")
	}
}
