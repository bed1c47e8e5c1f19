package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/telegram"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.25, cfg.Detection.EARThreshold)
	assert.Equal(t, 20, cfg.Detection.DrowsyFrames)
	assert.Equal(t, 30, cfg.Detection.AbsenceFrames)
	assert.Equal(t, 40*time.Millisecond, cfg.Input.Interval)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driveguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detection:
  ear_threshold: 0.3
  drowsy_frames: 15
database:
  path: /tmp/dg.db
kafka:
  brokers: ["k1:9092"]
  topic: driver-events
retention:
  max_age: 720h
`), 0o600))

	t.Setenv("DRIVEGUARD_DROWSY_FRAMES", "12")
	t.Setenv("DRIVEGUARD_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("DRIVEGUARD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Detection.EARThreshold)
	assert.Equal(t, 12, cfg.Detection.DrowsyFrames, "env wins over file")
	assert.Equal(t, 30, cfg.Detection.AbsenceFrames, "default kept")
	assert.Equal(t, "/tmp/dg.db", cfg.Database.Path)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "driver-events", cfg.Kafka.Topic)
	assert.Equal(t, 720*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("detection: [nope"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DRIVEGUARD_EAR_THRESHOLD":    "0.2",
		"DRIVEGUARD_EMIT_INTERRUPTED": "true",
		"DRIVEGUARD_AUTH_ENABLED":     "1",
		"DRIVEGUARD_AUTH_PASSWORD":    "pw",
		"DRIVEGUARD_JWT_EXPIRY":       "2h",
		"DRIVEGUARD_MQTT_BROKER":      "tcp://localhost:1883",
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Detection.EARThreshold)
	assert.True(t, cfg.Detection.EmitInterruptedEpisodes)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_ReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DRIVEGUARD_DROWSY_FRAMES":     "many",
		"DRIVEGUARD_RETENTION_MAX_AGE": "forever",
	}))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "DRIVEGUARD_DROWSY_FRAMES")
	assert.Contains(t, err.Error(), "DRIVEGUARD_RETENTION_MAX_AGE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold", func(c *Config) { c.Detection.EARThreshold = 0 }},
		{"drowsy frames", func(c *Config) { c.Detection.DrowsyFrames = 0 }},
		{"provider", func(c *Config) { c.Location.Provider = "gps" }},
		{"static latitude", func(c *Config) { c.Location.Provider = "static"; c.Location.Latitude = 91 }},
		{"database path", func(c *Config) { c.Database.Path = "" }},
		{"queue size", func(c *Config) { c.Emitter.QueueSize = 0 }},
		{"interval", func(c *Config) { c.Input.Interval = 0 }},
		{"kafka topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"} }},
		{"mqtt qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"telegram", func(c *Config) { c.Telegram.Enabled = true }},
		{"telegram cooldown", func(c *Config) {
			c.Telegram = telegram.Config{Enabled: true, BotToken: "t", ChatID: "c", CooldownSeconds: -10}
		}},
		{"auth", func(c *Config) { c.Auth.Enabled = true }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidate_TelegramCooldown(t *testing.T) {
	cfg := Default()
	cfg.Telegram = telegram.Config{Enabled: true, BotToken: "t", ChatID: "c", CooldownSeconds: -10}

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "cooldown")

	cfg.Telegram.CooldownSeconds = 0
	assert.NoError(t, cfg.Validate())
}
