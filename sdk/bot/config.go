package bot

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string `yaml:"discord_token"`     // DISCORD_TOKEN (required)
	ApplicationID   string `yaml:"application_id"`    // DISCORD_APPLICATION_ID (default: from READY)
	GatewayURL      string `yaml:"gateway_url"`       // DISCORD_GATEWAY_URL
	APIBase         string `yaml:"api_base"`          // DISCORD_API_BASE
	RESTRequestsSec int    `yaml:"rest_requests_sec"` // DISCORD_REST_RPS (default: 40)

	DBDriver   string `yaml:"db_driver"`   // DB_DRIVER: postgres | sqlite (default: postgres)
	DBHost     string `yaml:"db_host"`     // DB_HOST (default: localhost)
	DBPort     int    `yaml:"db_port"`     // DB_PORT (default: 5432)
	DBUser     string `yaml:"db_user"`     // DB_USER
	DBPassword string `yaml:"db_password"` // DB_PASSWORD
	DBName     string `yaml:"db_name"`     // DB_NAME
	DBSSLMode  string `yaml:"db_sslmode"`  // DB_SSLMODE (default: prefer)
	DBPath     string `yaml:"db_path"`     // DB_PATH (default: ./data/automod.db)

	AutomodChannelID string `yaml:"automod_channel_id"` // AUTOMOD_CHANNEL_ID (required)
	GeneralChannelID string `yaml:"general_channel_id"` // GENERAL_CHANNEL_ID (required)

	ModerationURL string `yaml:"moderation_url"` // MODERATION_URL
	OpenAIKey     string `yaml:"openai_api_key"` // OPENAI_API_KEY (required)

	StatusCommand     string `yaml:"status_command"`      // STATUS_COMMAND (default: !status)
	Timezone          string `yaml:"timezone"`            // TIMEZONE (default: America/Chicago)
	TimestampSuffix   string `yaml:"timestamp_suffix"`    // TIMESTAMP_SUFFIX (default: CDT)
	MaxInflight       int    `yaml:"max_inflight"`        // MAX_INFLIGHT_MESSAGES (default: 64)
	HealthAddr        string `yaml:"health_addr"`         // HEALTH_ADDR (default: :8080, "-" disables)
	StatusLogInterval int    `yaml:"status_log_interval"` // STATUS_LOG_INTERVAL_MINUTES (default: 15, negative disables)
	LogLevel          string `yaml:"log_level"`           // LOG_LEVEL (default: info)

	location *time.Location
}

const (
	DefaultGatewayURL    = "wss://gateway.discord.gg/?v=10&encoding=json"
	DefaultAPIBase       = "https://discord.com/api/v10"
	DefaultModerationURL = "https://api.openai.com/v1/moderations"
)

// Location is the parsed Timezone, available after LoadConfig.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// LoadConfig reads the optional YAML file at path, overlays the environment,
// fills defaults and validates. Environment values win over the file.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"DISCORD_TOKEN", &c.DiscordToken},
		{"DISCORD_APPLICATION_ID", &c.ApplicationID},
		{"DISCORD_GATEWAY_URL", &c.GatewayURL},
		{"DISCORD_API_BASE", &c.APIBase},
		{"DB_DRIVER", &c.DBDriver},
		{"DB_HOST", &c.DBHost},
		{"DB_USER", &c.DBUser},
		{"DB_PASSWORD", &c.DBPassword},
		{"DB_NAME", &c.DBName},
		{"DB_SSLMODE", &c.DBSSLMode},
		{"DB_PATH", &c.DBPath},
		{"AUTOMOD_CHANNEL_ID", &c.AutomodChannelID},
		{"GENERAL_CHANNEL_ID", &c.GeneralChannelID},
		{"MODERATION_URL", &c.ModerationURL},
		{"OPENAI_API_KEY", &c.OpenAIKey},
		{"STATUS_COMMAND", &c.StatusCommand},
		{"TIMEZONE", &c.Timezone},
		{"TIMESTAMP_SUFFIX", &c.TimestampSuffix},
		{"HEALTH_ADDR", &c.HealthAddr},
		{"LOG_LEVEL", &c.LogLevel},
	}
	for _, s := range strs {
		if v := strings.TrimSpace(os.Getenv(s.name)); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"DISCORD_REST_RPS", &c.RESTRequestsSec},
		{"DB_PORT", &c.DBPort},
		{"MAX_INFLIGHT_MESSAGES", &c.MaxInflight},
		{"STATUS_LOG_INTERVAL_MINUTES", &c.StatusLogInterval},
	}
	for _, i := range ints {
		v := strings.TrimSpace(os.Getenv(i.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.name, err)
		}
		*i.dst = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.GatewayURL, DefaultGatewayURL)
	setDefault(&c.APIBase, DefaultAPIBase)
	setDefault(&c.DBDriver, "postgres")
	setDefault(&c.DBHost, "localhost")
	setDefault(&c.DBSSLMode, "prefer")
	setDefault(&c.DBPath, "./data/automod.db")
	setDefault(&c.ModerationURL, DefaultModerationURL)
	setDefault(&c.StatusCommand, DefaultStatusCommand)
	setDefault(&c.Timezone, "America/Chicago")
	setDefault(&c.TimestampSuffix, DefaultTimestampSuffix)
	setDefault(&c.HealthAddr, ":8080")
	setDefault(&c.LogLevel, "info")
	if c.RESTRequestsSec <= 0 {
		c.RESTRequestsSec = 40
	}
	if c.DBPort == 0 {
		c.DBPort = 5432
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	if c.StatusLogInterval == 0 {
		c.StatusLogInterval = 15
	}
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	required := []struct{ name, val string }{
		{"DISCORD_TOKEN", c.DiscordToken},
		{"AUTOMOD_CHANNEL_ID", c.AutomodChannelID},
		{"GENERAL_CHANNEL_ID", c.GeneralChannelID},
		{"OPENAI_API_KEY", c.OpenAIKey},
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("missing required env var: %s", r.name)
		}
	}

	switch c.DBDriver {
	case "postgres":
		if c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("missing required env var: DB_USER and DB_NAME are required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", c.DBDriver)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}
