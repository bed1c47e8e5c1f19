// Package config loads the driveguard configuration: built-in defaults, then
// an optional YAML file, then DRIVEGUARD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"driveguard/internal/alert"
	"driveguard/internal/auth"
	"driveguard/internal/detection"
	"driveguard/internal/pipeline"
	"driveguard/internal/publish"
	"driveguard/internal/retention"
	"driveguard/internal/telegram"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DRIVEGUARD_"

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// AlertConfig selects the tone player
type AlertConfig struct {
	Muted         bool     `yaml:"muted"`
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	DrowsyTone    string   `yaml:"drowsy_tone"`
	AbsenceTone   string   `yaml:"absence_tone"`
	GenerateTones bool     `yaml:"generate_tones"`
}

// LocationConfig selects how the session location is resolved
type LocationConfig struct {
	// Provider is "ipapi", "static" or "none"
	Provider  string        `yaml:"provider"`
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
	Place     string        `yaml:"place"`
}

// DatabaseConfig locates the sqlite file
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Debug bool   `yaml:"debug"`
}

// GRPCConfig configures the health server; an empty address disables it
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// WSConfig configures the live event feed
type WSConfig struct {
	Backlog int `yaml:"backlog"`
}

// EmitterConfig bounds asynchronous event delivery
type EmitterConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	// File enables rotation through lumberjack when set
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// InputConfig selects the observation source. Command takes precedence over
// File; "-" reads stdin.
type InputConfig struct {
	File     string        `yaml:"file"`
	Command  string        `yaml:"command"`
	Args     []string      `yaml:"args"`
	Interval time.Duration `yaml:"interval"`
}

// Config is the full application configuration
type Config struct {
	Detection detection.Options   `yaml:"detection"`
	Alert     AlertConfig         `yaml:"alert"`
	Location  LocationConfig      `yaml:"location"`
	Database  DatabaseConfig      `yaml:"database"`
	HTTP      HTTPConfig          `yaml:"http"`
	GRPC      GRPCConfig          `yaml:"grpc"`
	WS        WSConfig            `yaml:"ws"`
	Emitter   EmitterConfig       `yaml:"emitter"`
	Kafka     publish.KafkaConfig `yaml:"kafka"`
	MQTT      publish.MQTTConfig  `yaml:"mqtt"`
	Telegram  telegram.Config     `yaml:"telegram"`
	Retention retention.Config    `yaml:"retention"`
	Auth      auth.Config         `yaml:"auth"`
	Logging   LoggingConfig       `yaml:"logging"`
	Input     InputConfig         `yaml:"input"`
}

// Default returns the built-in configuration
func Default() Config {
	tones := alert.DefaultTones()
	return Config{
		Detection: detection.DefaultOptions(),
		Alert: AlertConfig{
			DrowsyTone:    tones.Drowsy,
			AbsenceTone:   tones.Absence,
			GenerateTones: true,
		},
		Location: LocationConfig{
			Provider: "ipapi",
			Timeout:  5 * time.Second,
		},
		Database: DatabaseConfig{Path: "driveguard.db"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		WS:       WSConfig{Backlog: 100},
		Emitter: EmitterConfig{
			QueueSize:    256,
			StoreTimeout: 5 * time.Second,
		},
		MQTT: publish.MQTTConfig{
			ClientID:    "driveguard",
			TopicPrefix: "driveguard",
			QoS:         1,
		},
		Telegram: telegram.Config{
			CooldownSeconds: 30,
		},
		Retention: retention.Config{Schedule: "1h"},
		Auth: auth.Config{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Input: InputConfig{
			File:     "-",
			Interval: pipeline.DefaultInterval,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type override struct {
	key   string
	apply func(c *Config, v string) error
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setList(dst func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst(c) = out
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := cast.ToIntE(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func setFloat(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func setDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var overrides = []override{
	{"EAR_THRESHOLD", setFloat(func(c *Config) *float64 { return &c.Detection.EARThreshold })},
	{"DROWSY_FRAMES", setInt(func(c *Config) *int { return &c.Detection.DrowsyFrames })},
	{"ABSENCE_FRAMES", setInt(func(c *Config) *int { return &c.Detection.AbsenceFrames })},
	{"EMIT_INTERRUPTED", setBool(func(c *Config) *bool { return &c.Detection.EmitInterruptedEpisodes })},

	{"ALERT_MUTED", setBool(func(c *Config) *bool { return &c.Alert.Muted })},
	{"ALERT_COMMAND", setString(func(c *Config) *string { return &c.Alert.Command })},
	{"ALERT_DROWSY_TONE", setString(func(c *Config) *string { return &c.Alert.DrowsyTone })},
	{"ALERT_ABSENCE_TONE", setString(func(c *Config) *string { return &c.Alert.AbsenceTone })},

	{"LOCATION_PROVIDER", setString(func(c *Config) *string { return &c.Location.Provider })},
	{"LOCATION_URL", setString(func(c *Config) *string { return &c.Location.URL })},
	{"LOCATION_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Location.Timeout })},
	{"LOCATION_LATITUDE", setFloat(func(c *Config) *float64 { return &c.Location.Latitude })},
	{"LOCATION_LONGITUDE", setFloat(func(c *Config) *float64 { return &c.Location.Longitude })},
	{"LOCATION_PLACE", setString(func(c *Config) *string { return &c.Location.Place })},

	{"DB_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"HTTP_ADDR", setString(func(c *Config) *string { return &c.HTTP.Addr })},
	{"HTTP_DEBUG", setBool(func(c *Config) *bool { return &c.HTTP.Debug })},
	{"GRPC_ADDR", setString(func(c *Config) *string { return &c.GRPC.Addr })},
	{"WS_BACKLOG", setInt(func(c *Config) *int { return &c.WS.Backlog })},
	{"EMITTER_QUEUE_SIZE", setInt(func(c *Config) *int { return &c.Emitter.QueueSize })},

	{"KAFKA_BROKERS", setList(func(c *Config) *[]string { return &c.Kafka.Brokers })},
	{"KAFKA_TOPIC", setString(func(c *Config) *string { return &c.Kafka.Topic })},
	{"MQTT_BROKER", setString(func(c *Config) *string { return &c.MQTT.Broker })},
	{"MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Username })},
	{"MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Password })},
	{"MQTT_TOPIC_PREFIX", setString(func(c *Config) *string { return &c.MQTT.TopicPrefix })},

	{"TELEGRAM_ENABLED", setBool(func(c *Config) *bool { return &c.Telegram.Enabled })},
	{"TELEGRAM_BOT_TOKEN", setString(func(c *Config) *string { return &c.Telegram.BotToken })},
	{"TELEGRAM_CHAT_ID", setString(func(c *Config) *string { return &c.Telegram.ChatID })},
	{"TELEGRAM_COOLDOWN_SECONDS", setInt(func(c *Config) *int { return &c.Telegram.CooldownSeconds })},
	{"TELEGRAM_NOTIFY_RECOVERY", setBool(func(c *Config) *bool { return &c.Telegram.NotifyRecovery })},

	{"RETENTION_MAX_AGE", setDuration(func(c *Config) *time.Duration { return &c.Retention.MaxAge })},
	{"RETENTION_SCHEDULE", setString(func(c *Config) *string { return &c.Retention.Schedule })},

	{"AUTH_ENABLED", setBool(func(c *Config) *bool { return &c.Auth.Enabled })},
	{"AUTH_USERNAME", setString(func(c *Config) *string { return &c.Auth.Username })},
	{"AUTH_PASSWORD", setString(func(c *Config) *string { return &c.Auth.Password })},
	{"JWT_SECRET", setString(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"JWT_EXPIRY", setDuration(func(c *Config) *time.Duration { return &c.Auth.JWTExpiry })},

	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.Logging.Format })},
	{"LOG_FILE", setString(func(c *Config) *string { return &c.Logging.File })},

	{"INPUT_FILE", setString(func(c *Config) *string { return &c.Input.File })},
	{"INPUT_COMMAND", setString(func(c *Config) *string { return &c.Input.Command })},
	{"INPUT_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Input.Interval })},
}

// ApplyEnv applies DRIVEGUARD_* overrides found through lookup. Every
// unparsable value is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error
	for _, o := range overrides {
		key := EnvPrefix + o.key
		v, ok := lookup(key)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}
	return nil
}

// Validate checks cross-field constraints
func (c Config) Validate() error {
	var errs error

	if err := c.Detection.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	switch c.Location.Provider {
	case "ipapi", "static", "none", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("location.provider %q must be ipapi, static or none", c.Location.Provider))
	}
	if c.Location.Provider == "static" {
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			errs = multierr.Append(errs, fmt.Errorf("location.latitude %v out of range", c.Location.Latitude))
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			errs = multierr.Append(errs, fmt.Errorf("location.longitude %v out of range", c.Location.Longitude))
		}
	}

	if c.Database.Path == "" {
		errs = multierr.Append(errs, errors.New("database.path is required"))
	}
	if c.WS.Backlog < 0 {
		errs = multierr.Append(errs, errors.New("ws.backlog must not be negative"))
	}
	if c.Emitter.QueueSize < 1 {
		errs = multierr.Append(errs, errors.New("emitter.queue_size must be at least 1"))
	}
	if c.Input.Interval <= 0 {
		errs = multierr.Append(errs, errors.New("input.interval must be positive"))
	}
	if c.Kafka.Topic == "" && len(c.Kafka.Brokers) > 0 {
		errs = multierr.Append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.MQTT.QoS > 2 {
		errs = multierr.Append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
	}
	if err := telegram.ValidateConfig(c.Telegram); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("telegram: %w", err))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = multierr.Append(errs, errors.New("auth.password is required when auth is enabled"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.format %q must be console or json", c.Logging.Format))
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}
	return nil
}
