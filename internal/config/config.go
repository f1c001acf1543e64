package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"classbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Booking       BookingConfig      `yaml:"booking"`
	Waitlist      WaitlistConfig     `yaml:"waitlist"`
	Notifications NotificationConfig `yaml:"notifications"`
	AMQP          AMQPConfig         `yaml:"amqp"`
}

type BookingConfig struct {
	HoldWindow         time.Duration       `yaml:"hold_window"`
	AutoApproveEnabled *bool               `yaml:"auto_approve_enabled"`
	AutoApproveHours   float64             `yaml:"auto_approve_hours"`
	UserRateLimit      int                 `yaml:"user_rate_limit"`
	UserRateWindow     int                 `yaml:"user_rate_window"`
	DefaultPolicy      DefaultPolicyConfig `yaml:"default_policy"`
}

// DefaultPolicyConfig overrides the built-in fallback cancellation policy.
type DefaultPolicyConfig struct {
	HoursBefore            float64 `yaml:"hours_before"`
	RescheduleHoursBefore  float64 `yaml:"reschedule_hours_before"`
	PenaltyPercentage      float64 `yaml:"penalty_percentage"`
	MaxReschedulesPerMonth int     `yaml:"max_reschedules_per_month"`
}

type WaitlistConfig struct {
	SweepEnabled  bool          `yaml:"sweep_enabled"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// TelegramConfig configures notification delivery. BotEnabled also serves
// member commands on the same bot.
type TelegramConfig struct {
	BotToken   string `yaml:"bot_token"`
	Debug      bool   `yaml:"debug"`
	BotEnabled bool   `yaml:"bot_enabled"`
}

type WorkerConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderUserID string         `yaml:"header_user_id"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Booking.HoldWindow <= 0 {
		return errors.New("booking.hold_window must be positive")
	}
	if c.Booking.AutoApproveHours < 0 {
		return errors.New("booking.auto_approve_hours must not be negative")
	}
	if c.Waitlist.SweepEnabled && c.Waitlist.SweepInterval <= 0 {
		return errors.New("waitlist.sweep_interval must be positive when the sweep is enabled")
	}
	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// AutoApprove reports whether far-ahead reschedules skip admin review.
func (b BookingConfig) AutoApprove() bool {
	return b.AutoApproveEnabled == nil || *b.AutoApproveEnabled
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "x-user-id"
	}

	// Booking defaults
	if c.Booking.HoldWindow == 0 {
		c.Booking.HoldWindow = models.DefaultHoldWindow
	}
	if c.Booking.AutoApproveHours == 0 {
		c.Booking.AutoApproveHours = models.DefaultAutoApproveHours
	}
	if c.Booking.UserRateLimit == 0 {
		c.Booking.UserRateLimit = models.RateLimitRequests
	}
	if c.Booking.UserRateWindow == 0 {
		c.Booking.UserRateWindow = models.RateLimitWindow
	}
	if c.Booking.DefaultPolicy.HoursBefore == 0 {
		c.Booking.DefaultPolicy.HoursBefore = models.DefaultPolicyHoursBefore
	}
	if c.Booking.DefaultPolicy.RescheduleHoursBefore == 0 {
		c.Booking.DefaultPolicy.RescheduleHoursBefore = models.DefaultPolicyRescheduleHoursBefore
	}
	if c.Booking.DefaultPolicy.MaxReschedulesPerMonth == 0 {
		c.Booking.DefaultPolicy.MaxReschedulesPerMonth = models.DefaultPolicyMaxReschedulesPerMonth
	}

	if c.Waitlist.SweepInterval == 0 {
		c.Waitlist.SweepInterval = time.Minute
	}

	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "classbook.events"
	}
}

// DefaultCancellationPolicy builds the built-in fallback policy from config.
func (b BookingConfig) DefaultCancellationPolicy() models.CancellationPolicy {
	return models.CancellationPolicy{
		Name:                   "default",
		HoursBefore:            b.DefaultPolicy.HoursBefore,
		PenaltyPercentage:      b.DefaultPolicy.PenaltyPercentage,
		AllowReschedule:        true,
		RescheduleHoursBefore:  b.DefaultPolicy.RescheduleHoursBefore,
		MaxReschedulesPerMonth: b.DefaultPolicy.MaxReschedulesPerMonth,
		ApplicableTo:           models.AnyFilter(),
		IsActive:               true,
	}
}
