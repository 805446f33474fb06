// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// MissingRequiredMessage is printed before exiting when required values are absent.
const MissingRequiredMessage = "Please provide PRIVATE_KEY, RPC_URL, and CONTRACT_ADDRESS in your .env file"

// ErrMissingRequired is returned when PRIVATE_KEY, RPC_URL or CONTRACT_ADDRESS is absent.
var ErrMissingRequired = errors.New("missing required configuration: PRIVATE_KEY, RPC_URL and CONTRACT_ADDRESS must all be set")

// Overlap policies for scheduled invocations
const (
	OverlapAllow = "allow"
	OverlapSkip  = "skip"
)

// Config holds all configuration for the application
type Config struct {
	PrivateKey      string `mapstructure:"private_key"`
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`

	Rollover      RolloverConfig     `mapstructure:"rollover"`
	Schedule      ScheduleConfig     `mapstructure:"schedule"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// RolloverConfig contains transaction settings for the rollover call
type RolloverConfig struct {
	LogFile        string        `mapstructure:"log_file"`
	Method         string        `mapstructure:"method"`
	ChainID        int64         `mapstructure:"chain_id"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ScheduleConfig contains the cadence of scheduled invocations
type ScheduleConfig struct {
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
	Overlap  string `mapstructure:"overlap"`
}

// StorageConfig contains attempt history database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // none, sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

// NotificationConfig contains outbound attempt notification configuration
type NotificationConfig struct {
	WebhookURL  string        `mapstructure:"webhook_url"`
	NATSURL     string        `mapstructure:"nats_url"`
	NATSSubject string        `mapstructure:"nats_subject"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains console logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Options selects the sources Load reads from
type Options struct {
	// ConfigFile is an optional YAML file.
	ConfigFile string
	// EnvFile is an optional dotenv file; a missing file is not an error.
	EnvFile string
}

// Load loads configuration from file(s) and environment variables. It does not validate.
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	setDefaults(v)
	bindEnv(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if opts.EnvFile != "" {
		if err := mergeEnvFile(v, opts.EnvFile); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.PrivateKey = strings.TrimSpace(config.PrivateKey)
	config.RPCURL = strings.TrimSpace(config.RPCURL)
	config.ContractAddress = strings.TrimSpace(config.ContractAddress)

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("private_key", "")
	v.SetDefault("rpc_url", "")
	v.SetDefault("contract_address", "")

	v.SetDefault("rollover.log_file", "rollover.log")
	v.SetDefault("rollover.method", "rollover")
	v.SetDefault("rollover.chain_id", 0)
	v.SetDefault("rollover.gas_limit", 0)
	v.SetDefault("rollover.confirm_timeout", "0s")
	v.SetDefault("rollover.request_timeout", "30s")

	// once per minute at second 5; the daily variant is "5 0 0 * * *"
	v.SetDefault("schedule.cron", "5 * * * * *")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.overlap", OverlapAllow)

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.connection_string", "./data/rollover.db")
	v.SetDefault("storage.max_connections", 5)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.nats_url", "")
	v.SetDefault("notifications.nats_subject", "rollover.attempts")
	v.SetDefault("notifications.timeout", "10s")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
}

var envReplacer = strings.NewReplacer(".", "_")

// envAliases lists the environment names read for a key, in lookup order.
// Keys not listed use the upper-cased key with "." replaced by "_".
var envAliases = map[string][]string{
	"storage.connection_string": {"DATABASE_URL", "STORAGE_CONNECTION_STRING"},
	"notifications.webhook_url": {"WEBHOOK_URL", "NOTIFICATIONS_WEBHOOK_URL"},
	"notifications.nats_url":    {"NATS_URL", "NOTIFICATIONS_NATS_URL"},
	"logging.level":             {"LOG_LEVEL", "LOGGING_LEVEL"},
	"logging.format":            {"LOG_FORMAT", "LOGGING_FORMAT"},
	"server.enable_metrics":     {"ENABLE_METRICS", "SERVER_ENABLE_METRICS"},
	"server.enable_health":      {"ENABLE_HEALTH", "SERVER_ENABLE_HEALTH"},
}

func envNames(key string) []string {
	if names, ok := envAliases[key]; ok {
		return names
	}
	return []string{strings.ToUpper(envReplacer.Replace(key))}
}

// bindEnv binds the short environment variable names
func bindEnv(v *viper.Viper) {
	for key, names := range envAliases {
		v.BindEnv(append([]string{key}, names...)...)
	}
}

// mergeEnvFile applies a dotenv file under the same names the environment
// uses. A variable set in the real environment wins over the file; empty
// values count as unset. A missing file is not an error.
func mergeEnvFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	values, err := gotenv.Read(path)
	if err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	for _, key := range v.AllKeys() {
		names := envNames(key)
		if inEnvironment(names) {
			continue
		}
		for _, name := range names {
			if value := strings.TrimSpace(values[name]); value != "" {
				v.Set(key, value)
				break
			}
		}
	}
	return nil
}

func inEnvironment(names []string) bool {
	for _, name := range names {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PrivateKey == "" || c.RPCURL == "" || c.ContractAddress == "" {
		return ErrMissingRequired
	}
	if c.Rollover.LogFile == "" {
		return fmt.Errorf("rollover log file is required")
	}
	if c.Rollover.Method == "" {
		return fmt.Errorf("rollover method name is required")
	}
	if c.Rollover.ConfirmTimeout < 0 {
		return fmt.Errorf("rollover confirm timeout must not be negative")
	}
	if _, err := cron.Parse(c.Schedule.Cron); err != nil {
		return fmt.Errorf("invalid schedule cron %q: %w", c.Schedule.Cron, err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", c.Schedule.Timezone, err)
	}
	switch c.Schedule.Overlap {
	case OverlapAllow, OverlapSkip:
	default:
		return fmt.Errorf("schedule overlap must be %q or %q, got %q", OverlapAllow, OverlapSkip, c.Schedule.Overlap)
	}
	if c.Storage.Type != "none" && c.Storage.Type != "" && c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	return nil
}

// Location returns the schedule's time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
