// Copyright 2024-2026 Aiku AI

// Package config loads the chatsync YAML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/aiku/chatsync/pkg/outbound"
	"github.com/aiku/chatsync/pkg/provider"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Environment variables that override secrets from the file.
const (
	EnvDiscordToken    = "CHATSYNC_DISCORD_TOKEN"
	EnvMattermostToken = "CHATSYNC_MATTERMOST_TOKEN"
)

type Config struct {
	Database   dbutil.Config     `yaml:"database"`
	Discord    DiscordConfig     `yaml:"discord"`
	Mattermost MattermostConfig  `yaml:"mattermost"`
	Sync       SyncConfig        `yaml:"sync"`
	AdminAPI   AdminAPIConfig    `yaml:"admin_api"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type DiscordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Token       string `yaml:"token"`
	WebhookName string `yaml:"webhook_name"`
	Gateway     bool   `yaml:"gateway"`
	// AuthorNameTemplate renders the username shown on webhook messages.
	AuthorNameTemplate string `yaml:"author_name_template"`

	authorNameTemplate *template.Template `yaml:"-"`
}

type MattermostConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	// BotPrefix is a username prefix for echo prevention. Any Mattermost
	// username starting with this prefix is treated as a relay account and
	// its posts are not ingested. Leave empty to disable prefix filtering.
	BotPrefix string `yaml:"bot_prefix"`
	WebSocket bool   `yaml:"websocket"`
}

type SyncConfig struct {
	AttachmentBaseURL    string      `yaml:"attachment_base_url"`
	MaxCatchUpPerChannel int         `yaml:"max_catchup_per_channel"`
	FanOutConcurrency    int         `yaml:"fanout_concurrency"`
	RequestsPerSecond    float64     `yaml:"requests_per_second"`
	Burst                int         `yaml:"burst"`
	Retry                RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type AdminAPIConfig struct {
	Address string `yaml:"address"`
}

// AuthorNameParams holds the parameters for rendering the author name template.
type AuthorNameParams struct {
	DisplayName string
	Provider    string
}

// Load reads the config at path, upgrading it in place against the example
// config, then applies environment overrides and validates it.
func Load(path string) (*Config, error) {
	data, _, err := up.Do(path, true, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data, os.Getenv)
}

// Parse decodes a config document. getenv supplies environment overrides
// and may be nil.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if getenv != nil {
		cfg.ApplyEnv(getenv)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv replaces secrets with their environment overrides when set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if token := getenv(EnvDiscordToken); token != "" {
		c.Discord.Token = token
	}
	if token := getenv(EnvMattermostToken); token != "" {
		c.Mattermost.Token = token
	}
}

// PostProcess fills defaults and validates the config.
func (c *Config) PostProcess() error {
	var errs []error
	if c.Database.Type == "" || c.Database.URI == "" {
		errs = append(errs, errors.New("database.type and database.uri are required"))
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required when discord is enabled (or set %s)", EnvDiscordToken))
	}
	if c.Mattermost.Enabled {
		c.Mattermost.ServerURL = strings.TrimRight(c.Mattermost.ServerURL, "/")
		if c.Mattermost.ServerURL == "" {
			errs = append(errs, errors.New("mattermost.server_url is required when mattermost is enabled"))
		}
		if c.Mattermost.Token == "" {
			errs = append(errs, fmt.Errorf("mattermost.token is required when mattermost is enabled (or set %s)", EnvMattermostToken))
		}
	}
	if c.Sync.MaxCatchUpPerChannel <= 0 {
		c.Sync.MaxCatchUpPerChannel = outbound.DefaultMaxCatchUpPerChannel
	}
	if c.Sync.FanOutConcurrency <= 0 {
		c.Sync.FanOutConcurrency = outbound.DefaultFanOutConcurrency
	}
	if c.Sync.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("sync.requests_per_second must not be negative"))
	}
	if c.Sync.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.retry.max_retries must not be negative"))
	}
	if c.Discord.AuthorNameTemplate != "" {
		var err error
		c.Discord.authorNameTemplate, err = template.New("author_name").Parse(c.Discord.AuthorNameTemplate)
		if err != nil {
			errs = append(errs, fmt.Errorf("discord.author_name_template: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Outbound returns the outbound engine settings.
func (c *Config) Outbound() outbound.Config {
	return outbound.Config{
		AttachmentBaseURL:    c.Sync.AttachmentBaseURL,
		MaxCatchUpPerChannel: c.Sync.MaxCatchUpPerChannel,
		FanOutConcurrency:    c.Sync.FanOutConcurrency,
	}
}

// RetryPolicy returns the provider retry policy. Each call creates a new
// rate limiter, so every provider gets its own budget.
func (c *Config) RetryPolicy() provider.RetryPolicy {
	policy := provider.DefaultRetryPolicy
	r := c.Sync.Retry
	policy.MaxRetries = r.MaxRetries
	if r.InitialDelay > 0 {
		policy.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	if r.Multiplier >= 1 {
		policy.Multiplier = r.Multiplier
	}
	if c.Sync.RequestsPerSecond > 0 {
		policy.Limiter = rate.NewLimiter(rate.Limit(c.Sync.RequestsPerSecond), max(c.Sync.Burst, 1))
	}
	return policy
}

// FormatAuthorName renders the webhook author name. It returns the display
// name unchanged when no template is set or rendering fails.
func (d *DiscordConfig) FormatAuthorName(params AuthorNameParams) string {
	if d.authorNameTemplate == nil {
		return params.DisplayName
	}
	var buf strings.Builder
	if err := d.authorNameTemplate.Execute(&buf, params); err != nil {
		return params.DisplayName
	}
	return buf.String()
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "conn_max_idle_time")
	helper.Copy(up.Str|up.Null, "database", "conn_max_lifetime")

	helper.Copy(up.Bool, "discord", "enabled")
	helper.Copy(up.Str, "discord", "token")
	helper.Copy(up.Str, "discord", "webhook_name")
	helper.Copy(up.Bool, "discord", "gateway")
	helper.Copy(up.Str, "discord", "author_name_template")

	helper.Copy(up.Bool, "mattermost", "enabled")
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Bool, "mattermost", "websocket")

	helper.Copy(up.Str, "sync", "attachment_base_url")
	helper.Copy(up.Int, "sync", "max_catchup_per_channel")
	helper.Copy(up.Int, "sync", "fanout_concurrency")
	helper.Copy(up.Int|up.Float, "sync", "requests_per_second")
	helper.Copy(up.Int, "sync", "burst")
	helper.Copy(up.Int, "sync", "retry", "max_retries")
	helper.Copy(up.Str, "sync", "retry", "initial_delay")
	helper.Copy(up.Str, "sync", "retry", "max_delay")
	helper.Copy(up.Int|up.Float, "sync", "retry", "multiplier")

	helper.Copy(up.Str, "admin_api", "address")

	helper.Copy(up.Map, "logging")
}

// Upgrader returns the config upgrader based on the example config.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"discord"},
			{"mattermost"},
			{"sync"},
			{"admin_api"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}
