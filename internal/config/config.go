// Package config loads service configuration from defaults, an optional
// keygated-ledger.yaml, a .env file, KGL_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "kgl"
	configName = "keygated-ledger"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Type         string `mapstructure:"type"` // memory, sqlite or postgres
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type KeysConfig struct {
	Length      int           `mapstructure:"length"` // bits per key
	IssueLimit  int           `mapstructure:"issue_limit"`
	IssueWindow time.Duration `mapstructure:"issue_window"`
}

type TransferConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults are applied before any other source.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":               ":8080",
		"http.read_timeout":       "10s",
		"http.write_timeout":      "15s",
		"http.shutdown_timeout":   "20s",
		"database.type":           "memory",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"keys.length":             128,
		"keys.issue_limit":        0,
		"keys.issue_window":       "1m",
		"transfer.max_attempts":   5,
		"transfer.retry_base":     "5ms",
		"redis.addr":              "",
		"redis.password":          "",
		"redis.db":                0,
		"kafka.brokers":           []string{},
		"kafka.topic":             "transfer_completed",
		"log.level":               "info",
		"log.format":              "json",
	}
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"addr":      "http.addr",
	"db-type":   "database.type",
	"dsn":       "database.dsn",
	"log-level": "log.level",
}

// Load reads configuration. configFile, when set, must exist; otherwise the
// working directory and /etc/keygated-ledger are searched and a missing file
// is not an error. cmd may be nil.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config

	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return c, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/" + configName)
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Type {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for %s", c.Database.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not one of memory, sqlite, postgres", c.Database.Type))
	}

	if c.Keys.Length < 64 {
		errs = append(errs, fmt.Errorf("keys.length must be at least 64 bits, got %d", c.Keys.Length))
	}
	if c.Keys.IssueLimit < 0 {
		errs = append(errs, errors.New("keys.issue_limit must not be negative"))
	}
	if c.Keys.IssueLimit > 0 && c.Keys.IssueWindow <= 0 {
		errs = append(errs, errors.New("keys.issue_window must be positive when keys.issue_limit is set"))
	}
	if c.Transfer.MaxAttempts < 1 {
		errs = append(errs, errors.New("transfer.max_attempts must be at least 1"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}

	return errors.Join(errs...)
}
