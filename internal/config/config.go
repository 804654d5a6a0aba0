// Package config loads process configuration from the environment.
//
// Values are read from an optional .env file (godotenv), then from the real
// environment, over a set of defaults. Load validates the result and reports
// every problem at once.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoints of the TDX open-data platform.
const (
	DefaultTokenURL = "https://tdx.transportdata.tw/auth/realms/TDXConnect/protocol/openid-connect/token"
	DefaultBaseURL  = "https://tdx.transportdata.tw/api/basic/v1/Parking/OnStreet"
)

// MaxChunkSize is the largest number of segment ids sent in one remote query.
const MaxChunkSize = 20

// Config is the full process configuration.
type Config struct {
	Port        string
	HomeAddress string
	TablesPath  string
	CORSOrigins []string

	Logging LoggingConfig
	TDX     TDXConfig
	Retry   RetryConfig
	Monitor MonitorConfig
	Notify  NotifyConfig
	Admin   AdminConfig
	Jobs    JobsConfig
}

// LoggingConfig selects the log level, format and destination.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TDXConfig holds the remote provider credentials and call limits.
type TDXConfig struct {
	ClientID       string
	ClientSecret   string
	TokenURL       string
	BaseURL        string
	RequestTimeout time.Duration
	ChunkSize      int
	Concurrency    int
	Top            int
	TokenMargin    time.Duration
	TokenRateLimit int
}

// RetryConfig is the policy applied to transient remote failures.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// MonitorConfig bounds monitor polling.
type MonitorConfig struct {
	Interval        time.Duration
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	Retention       time.Duration
}

// NotifyConfig configures outbound notification channels.
type NotifyConfig struct {
	DefaultChannel string
	Twilio         TwilioConfig
	SendGrid       SendGridConfig
	MQTT           MQTTConfig
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	Host      string
}

func (c SendGridConfig) Enabled() bool {
	return c.APIKey != "" && c.FromEmail != ""
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// AdminConfig holds the single operator account and token signing secret.
type AdminConfig struct {
	Username     string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

func (c AdminConfig) Enabled() bool {
	return c.Username != "" && c.PasswordHash != ""
}

// JobsConfig holds cron specs for background jobs.
type JobsConfig struct {
	CredentialPrewarm string
	MonitorSweep      string
}

// Load reads envFile (".env" when empty) if it exists, applies environment
// overrides on top of the defaults and validates the result.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg := defaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Port:        "8080",
		CORSOrigins: []string{"*"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		TDX: TDXConfig{
			TokenURL:       DefaultTokenURL,
			BaseURL:        DefaultBaseURL,
			RequestTimeout: 5 * time.Second,
			ChunkSize:      MaxChunkSize,
			Concurrency:    4,
			Top:            5000,
			TokenMargin:    60 * time.Second,
			TokenRateLimit: 20,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Delay:    2 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:        5 * time.Second,
			DefaultDuration: 30 * time.Minute,
			MaxDuration:     2 * time.Hour,
			Retention:       time.Hour,
		},
		Notify: NotifyConfig{
			DefaultChannel: "log",
			SendGrid: SendGridConfig{
				FromName: "Parkwatch",
				Host:     "https://api.sendgrid.com",
			},
			MQTT: MQTTConfig{
				ClientID:    "parkwatch",
				TopicPrefix: "parkwatch/notify",
				QoS:         1,
			},
		},
		Admin: AdminConfig{
			TokenTTL: time.Hour,
		},
		Jobs: JobsConfig{
			CredentialPrewarm: "@every 10m",
			MonitorSweep:      "@every 1m",
		},
	}
}

// envReader reads typed values from the environment and keeps the first
// parse error of every variable.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func applyEnv(cfg *Config) error {
	r := &envReader{}

	r.str("PORT", &cfg.Port)
	r.str("HOME_ADDRESS", &cfg.HomeAddress)
	r.str("TABLES_PATH", &cfg.TablesPath)
	r.list("CORS_ORIGINS", &cfg.CORSOrigins)

	r.str("LOG_LEVEL", &cfg.Logging.Level)
	r.str("LOG_FORMAT", &cfg.Logging.Format)
	r.str("LOG_OUTPUT", &cfg.Logging.Output)

	r.str("TDX_CLIENT_ID", &cfg.TDX.ClientID)
	r.str("TDX_CLIENT_SECRET", &cfg.TDX.ClientSecret)
	r.str("TDX_TOKEN_URL", &cfg.TDX.TokenURL)
	r.str("TDX_BASE_URL", &cfg.TDX.BaseURL)
	r.duration("TDX_REQUEST_TIMEOUT", &cfg.TDX.RequestTimeout)
	r.int("TDX_CHUNK_SIZE", &cfg.TDX.ChunkSize)
	r.int("TDX_CONCURRENCY", &cfg.TDX.Concurrency)
	r.int("TDX_TOP", &cfg.TDX.Top)
	r.duration("TDX_TOKEN_MARGIN", &cfg.TDX.TokenMargin)
	r.int("TDX_TOKEN_RATE_LIMIT", &cfg.TDX.TokenRateLimit)

	r.int("RETRY_ATTEMPTS", &cfg.Retry.Attempts)
	r.duration("RETRY_DELAY", &cfg.Retry.Delay)

	r.duration("MONITOR_INTERVAL", &cfg.Monitor.Interval)
	r.duration("MONITOR_DEFAULT_DURATION", &cfg.Monitor.DefaultDuration)
	r.duration("MONITOR_MAX_DURATION", &cfg.Monitor.MaxDuration)
	r.duration("MONITOR_RETENTION", &cfg.Monitor.Retention)

	r.str("NOTIFY_DEFAULT_CHANNEL", &cfg.Notify.DefaultChannel)
	r.str("TWILIO_ACCOUNT_SID", &cfg.Notify.Twilio.AccountSID)
	r.str("TWILIO_AUTH_TOKEN", &cfg.Notify.Twilio.AuthToken)
	r.str("TWILIO_FROM_NUMBER", &cfg.Notify.Twilio.FromNumber)
	r.str("SENDGRID_API_KEY", &cfg.Notify.SendGrid.APIKey)
	r.str("SENDGRID_FROM_EMAIL", &cfg.Notify.SendGrid.FromEmail)
	r.str("SENDGRID_FROM_NAME", &cfg.Notify.SendGrid.FromName)
	r.str("SENDGRID_HOST", &cfg.Notify.SendGrid.Host)
	r.str("MQTT_BROKER", &cfg.Notify.MQTT.Broker)
	r.str("MQTT_CLIENT_ID", &cfg.Notify.MQTT.ClientID)
	r.str("MQTT_USERNAME", &cfg.Notify.MQTT.Username)
	r.str("MQTT_PASSWORD", &cfg.Notify.MQTT.Password)
	r.str("MQTT_TOPIC_PREFIX", &cfg.Notify.MQTT.TopicPrefix)
	r.int("MQTT_QOS", &cfg.Notify.MQTT.QoS)

	r.str("ADMIN_USERNAME", &cfg.Admin.Username)
	r.str("ADMIN_PASSWORD_HASH", &cfg.Admin.PasswordHash)
	r.str("JWT_SECRET", &cfg.Admin.JWTSecret)
	r.duration("ADMIN_TOKEN_TTL", &cfg.Admin.TokenTTL)

	r.str("JOB_CREDENTIAL_PREWARM", &cfg.Jobs.CredentialPrewarm)
	r.str("JOB_MONITOR_SWEEP", &cfg.Jobs.MonitorSweep)

	if len(r.errs) > 0 {
		return fmt.Errorf("parsing environment: %w", errors.Join(r.errs...))
	}
	return nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.TDX.ClientID == "" || c.TDX.ClientSecret == "" {
		errs = append(errs, "TDX_CLIENT_ID and TDX_CLIENT_SECRET are required")
	}
	if c.TDX.ChunkSize < 1 || c.TDX.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Sprintf("TDX_CHUNK_SIZE must be between 1 and %d", MaxChunkSize))
	}
	if c.TDX.Concurrency < 1 {
		errs = append(errs, "TDX_CONCURRENCY must be at least 1")
	}
	if c.TDX.Top < 1 {
		errs = append(errs, "TDX_TOP must be at least 1")
	}
	if c.TDX.RequestTimeout <= 0 {
		errs = append(errs, "TDX_REQUEST_TIMEOUT must be positive")
	}
	if c.TDX.TokenMargin < 0 {
		errs = append(errs, "TDX_TOKEN_MARGIN must not be negative")
	}
	if c.TDX.TokenRateLimit < 1 {
		errs = append(errs, "TDX_TOKEN_RATE_LIMIT must be at least 1")
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, "RETRY_ATTEMPTS must be at least 1")
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, "RETRY_DELAY must not be negative")
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, "MONITOR_INTERVAL must be positive")
	}
	if c.Monitor.DefaultDuration <= 0 || c.Monitor.MaxDuration <= 0 {
		errs = append(errs, "MONITOR_DEFAULT_DURATION and MONITOR_MAX_DURATION must be positive")
	} else if c.Monitor.DefaultDuration > c.Monitor.MaxDuration {
		errs = append(errs, "MONITOR_DEFAULT_DURATION must not exceed MONITOR_MAX_DURATION")
	}

	switch c.Notify.DefaultChannel {
	case "log":
	case "sms":
		if !c.Notify.Twilio.Enabled() {
			errs = append(errs, "default channel sms requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
	case "email":
		if !c.Notify.SendGrid.Enabled() {
			errs = append(errs, "default channel email requires SENDGRID_API_KEY and SENDGRID_FROM_EMAIL")
		}
	case "mqtt":
		if !c.Notify.MQTT.Enabled() {
			errs = append(errs, "default channel mqtt requires MQTT_BROKER")
		}
	default:
		errs = append(errs, fmt.Sprintf("NOTIFY_DEFAULT_CHANNEL %q is not one of log, sms, email, mqtt", c.Notify.DefaultChannel))
	}
	if c.Notify.MQTT.QoS < 0 || c.Notify.MQTT.QoS > 2 {
		errs = append(errs, "MQTT_QOS must be 0, 1, or 2")
	}

	if c.Admin.Enabled() {
		const minJWTSecretLength = 32
		if len(c.Admin.JWTSecret) < minJWTSecretLength {
			errs = append(errs, "JWT_SECRET must be at least 32 characters when an operator account is configured")
		}
		if c.Admin.TokenTTL <= 0 {
			errs = append(errs, "ADMIN_TOKEN_TTL must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
