package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"chefbook/internal/models"

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
	Tracing       TracingConfig      `yaml:"tracing"`
	API           APIConfig          `yaml:"api"`
	Bookings      BookingsConfig     `yaml:"bookings"`
	Payments      PaymentsConfig     `yaml:"payments"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Events        EventsConfig       `yaml:"events"`
	Exports       ExportConfig       `yaml:"exports"`
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
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
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

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type APIConfig struct {
	Enabled       bool               `yaml:"enabled"`
	HTTP          APIHTTPConfig      `yaml:"http"`
	GRPC          APIGRPCConfig      `yaml:"grpc"`
	Auth          APIAuthConfig      `yaml:"auth"`
	RateLimit     APIRateLimitConfig `yaml:"rate_limit"`
	WebhookSecret string             `yaml:"webhook_secret"`
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

type BookingsConfig struct {
	MaxBookingDays int `yaml:"max_booking_days"`
}

type PaymentsConfig struct {
	Currency      string        `yaml:"currency"`
	ServiceFeeBps int64         `yaml:"service_fee_bps"`
	TaxBps        int64         `yaml:"tax_bps"`
	DepositBps    int64         `yaml:"deposit_bps"`
	OmisePublic   string        `yaml:"omise_public_key"`
	OmiseSecret   string        `yaml:"omise_secret_key"`
	SourceType    string        `yaml:"source_type"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// Live reports whether a real processor is configured.
func (p PaymentsConfig) Live() bool {
	return p.OmisePublic != "" && p.OmiseSecret != ""
}

type NotificationConfig struct {
	DeliveryTimeout  time.Duration `yaml:"delivery_timeout"`
	TelegramToken    string        `yaml:"telegram_token"`
	TelegramDebug    bool          `yaml:"telegram_debug"`
	GmailCredentials string        `yaml:"gmail_credentials_file"`
	GmailSender      string        `yaml:"gmail_sender"`
	TemplatesDir     string        `yaml:"templates_dir"`
	EmailRetries     int           `yaml:"email_retries"`
}

type SchedulerConfig struct {
	Timezone              string        `yaml:"timezone"`
	Tick                  time.Duration `yaml:"tick"`
	ReminderInterval      time.Duration `yaml:"reminder_interval"`
	ReviewRequestInterval time.Duration `yaml:"review_request_interval"`
	PaymentDueInterval    time.Duration `yaml:"payment_due_interval"`
	PaymentDueWindowDays  int           `yaml:"payment_due_window_days"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type EventsConfig struct {
	AMQPURL       string        `yaml:"amqp_url"`
	Exchange      string        `yaml:"exchange"`
	RelayBatch    int           `yaml:"relay_batch"`
	RelayPoll     time.Duration `yaml:"relay_poll"`
	MaxRetries    int           `yaml:"max_retries"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

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
	if c.API.Enabled && c.API.WebhookSecret == "" {
		return errors.New("api webhook secret is required")
	}
	if (c.Payments.OmisePublic == "") != (c.Payments.OmiseSecret == "") {
		return errors.New("both omise keys must be set together")
	}
	for name, bps := range map[string]int64{
		"service_fee_bps": c.Payments.ServiceFeeBps,
		"tax_bps":         c.Payments.TaxBps,
		"deposit_bps":     c.Payments.DepositBps,
	} {
		if bps < 0 || bps > models.BasisPoints {
			return fmt.Errorf("payments.%s must be between 0 and %d", name, models.BasisPoints)
		}
	}
	if c.Payments.DepositBps == 0 {
		return errors.New("payments.deposit_bps must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "chefbook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}

	if c.Bookings.MaxBookingDays == 0 {
		c.Bookings.MaxBookingDays = 365
	}

	if c.Payments.Currency == "" {
		c.Payments.Currency = models.DefaultCurrency
	}
	if c.Payments.ServiceFeeBps == 0 {
		c.Payments.ServiceFeeBps = models.DefaultServiceFeeBps
	}
	if c.Payments.DepositBps == 0 {
		c.Payments.DepositBps = models.DefaultDepositBps
	}
	if c.Payments.SourceType == "" {
		c.Payments.SourceType = "promptpay"
	}
	if c.Payments.Timeout == 0 {
		c.Payments.Timeout = 10 * time.Second
	}
	if c.Payments.RetryAttempts == 0 {
		c.Payments.RetryAttempts = 3
	}
	if c.Payments.RetryDelay == 0 {
		c.Payments.RetryDelay = 50 * time.Millisecond
	}

	if c.Notifications.DeliveryTimeout == 0 {
		c.Notifications.DeliveryTimeout = 10 * time.Second
	}
	if c.Notifications.EmailRetries == 0 {
		c.Notifications.EmailRetries = 1
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = time.Minute
	}
	if c.Scheduler.ReminderInterval == 0 {
		c.Scheduler.ReminderInterval = time.Hour
	}
	if c.Scheduler.ReviewRequestInterval == 0 {
		c.Scheduler.ReviewRequestInterval = 24 * time.Hour
	}
	if c.Scheduler.PaymentDueInterval == 0 {
		c.Scheduler.PaymentDueInterval = 24 * time.Hour
	}
	if c.Scheduler.PaymentDueWindowDays == 0 {
		c.Scheduler.PaymentDueWindowDays = 3
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "chefbook.events"
	}
	if c.Events.RelayBatch == 0 {
		c.Events.RelayBatch = 50
	}
	if c.Events.RelayPoll == 0 {
		c.Events.RelayPoll = 5 * time.Second
	}
	if c.Events.MaxRetries == 0 {
		c.Events.MaxRetries = 5
	}
	if c.Events.DeadLetterKey == "" {
		c.Events.DeadLetterKey = "events:dead_letter"
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
