package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"clinicbook/internal/models"

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
	Exports       ExportConfig       `yaml:"exports"`
	Booking       BookingConfig      `yaml:"booking"`
	Notifications NotificationConfig `yaml:"notifications"`
}

type BookingConfig struct {
	ReferencePrefix   string `yaml:"reference_prefix"`
	ReferenceAttempts int    `yaml:"reference_attempts"`
	MinPhoneDigits    int    `yaml:"min_phone_digits"`
	SessionTTL        int    `yaml:"session_ttl"`
	SubmitRateLimit   int    `yaml:"submit_rate_limit"`
	SubmitRateWindow  int    `yaml:"submit_rate_window"`
}

// SessionTTLDuration returns session TTL as a duration.
func (b BookingConfig) SessionTTLDuration() time.Duration {
	return time.Duration(b.SessionTTL) * time.Second
}

// SubmitWindowDuration returns the submit throttle window as a duration.
func (b BookingConfig) SubmitWindowDuration() time.Duration {
	return time.Duration(b.SubmitRateWindow) * time.Second
}

type NotificationConfig struct {
	QueueSize int            `yaml:"queue_size"`
	Retry     RetryConfig    `yaml:"retry"`
	AMQP      AMQPConfig     `yaml:"amqp"`
	Telegram  TelegramConfig `yaml:"telegram"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`
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
	Enabled bool         `yaml:"enabled"`
	Port    int          `yaml:"port"`
	TLS     APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
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
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
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
	if c.Booking.ReferenceAttempts < 1 {
		return errors.New("booking.reference_attempts must be at least 1")
	}
	if c.Notifications.AMQP.Enabled && c.Notifications.AMQP.URL == "" {
		return errors.New("notifications.amqp.url is required when amqp is enabled")
	}
	if c.Notifications.Telegram.Enabled {
		if c.Notifications.Telegram.BotToken == "" {
			return errors.New("notifications.telegram.bot_token is required when telegram is enabled")
		}
		if len(c.Notifications.Telegram.AdminChatIDs) == 0 {
			return errors.New("notifications.telegram.admin_chat_ids is empty")
		}
	}
	return nil
}

// ValidateSlots checks the catalog loaded from slots.yaml.
func ValidateSlots(slots []models.Slot) error {
	slotIDs := make(map[int64]bool)
	for _, slot := range slots {
		if slot.ID == 0 {
			return fmt.Errorf("slot '%s' has invalid ID 0", slot.Name)
		}
		if slotIDs[slot.ID] {
			return fmt.Errorf("duplicate slot ID found: %d", slot.ID)
		}
		if slot.Capacity <= 0 {
			return fmt.Errorf("slot %d has non-positive capacity %d", slot.ID, slot.Capacity)
		}
		if slot.PriceCents < 0 {
			return fmt.Errorf("slot %d has negative price", slot.ID)
		}
		switch slot.Kind {
		case models.KindClinic, models.KindCourse:
		default:
			return fmt.Errorf("slot %d has unknown kind %q", slot.ID, slot.Kind)
		}
		slotIDs[slot.ID] = true
	}
	return nil
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
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	if c.Booking.ReferencePrefix == "" {
		c.Booking.ReferencePrefix = "CB"
	}
	if c.Booking.ReferenceAttempts == 0 {
		c.Booking.ReferenceAttempts = models.DefaultReferenceAttempts
	}
	if c.Booking.MinPhoneDigits == 0 {
		c.Booking.MinPhoneDigits = models.DefaultMinPhoneDigits
	}
	if c.Booking.SessionTTL == 0 {
		c.Booking.SessionTTL = models.DefaultSessionTTL
	}
	if c.Booking.SubmitRateLimit == 0 {
		c.Booking.SubmitRateLimit = models.SubmitRateLimit
	}
	if c.Booking.SubmitRateWindow == 0 {
		c.Booking.SubmitRateWindow = models.SubmitRateWindow
	}

	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.WorkerQueueSize
	}
	if c.Notifications.AMQP.Queue == "" {
		c.Notifications.AMQP.Queue = "booking.notifications"
	}
}
