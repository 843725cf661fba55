// Package config loads the daemon configuration from a JSON file or, for
// container deployments, from TRACKLINE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level trackline configuration.
type Config struct {
	DataDir   string          `json:"data_dir"`
	API       APIConfig       `json:"api"`
	Provider  ProviderConfig  `json:"provider"`
	Bitbucket BitbucketConfig `json:"bitbucket"`
	Google    GoogleConfig    `json:"google,omitempty"`
	Slack     SlackConfig     `json:"slack,omitempty"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// ProviderConfig holds completion model settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// BitbucketConfig holds the hosting API credentials and defaults.
type BitbucketConfig struct {
	Token         string `json:"token"`
	BaseURL       string `json:"base_url,omitempty"`
	Workspace     string `json:"workspace"`
	RepoSlug      string `json:"repo_slug"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// GoogleConfig holds the Calendar OAuth application credentials. All fields
// empty disables the calendar integration.
type GoogleConfig struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	StateSecret  string `json:"state_secret,omitempty"`
	CalendarID   string `json:"calendar_id,omitempty"`
}

// SlackConfig holds the notification channel settings. Empty disables
// notifications.
type SlackConfig struct {
	BotToken string `json:"bot_token,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// Enabled reports whether the calendar integration is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURI != ""
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with TRACKLINE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir: getenv("TRACKLINE_DATA_DIR", "/data"),
		API: APIConfig{
			Host: getenv("TRACKLINE_API_HOST", "0.0.0.0"),
			Port: getenvInt("TRACKLINE_API_PORT", 8080),
			Key:  os.Getenv("TRACKLINE_API_KEY"),
		},
		Provider: ProviderConfig{
			Type:    getenv("TRACKLINE_PROVIDER", "anthropic"),
			APIKey:  firstenv("TRACKLINE_ANTHROPIC_API_KEY", "TRACKLINE_OPENAI_API_KEY"),
			BaseURL: os.Getenv("TRACKLINE_PROVIDER_BASE_URL"),
			Model:   os.Getenv("TRACKLINE_MODEL"),
		},
		Bitbucket: BitbucketConfig{
			Token:         os.Getenv("TRACKLINE_BITBUCKET_TOKEN"),
			Workspace:     os.Getenv("TRACKLINE_BITBUCKET_WORKSPACE"),
			RepoSlug:      os.Getenv("TRACKLINE_BITBUCKET_REPO"),
			WebhookSecret: os.Getenv("TRACKLINE_WEBHOOK_SECRET"),
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("TRACKLINE_GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("TRACKLINE_GOOGLE_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("TRACKLINE_GOOGLE_REDIRECT_URI"),
			StateSecret:  os.Getenv("TRACKLINE_GOOGLE_STATE_SECRET"),
			CalendarID:   os.Getenv("TRACKLINE_GOOGLE_CALENDAR_ID"),
		},
		Slack: SlackConfig{
			BotToken: os.Getenv("TRACKLINE_SLACK_BOT_TOKEN"),
			Channel:  os.Getenv("TRACKLINE_SLACK_CHANNEL"),
		},
	}
	if os.Getenv("TRACKLINE_OPENAI_API_KEY") != "" && os.Getenv("TRACKLINE_ANTHROPIC_API_KEY") == "" {
		cfg.Provider.Type = "openai"
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "anthropic"
	}
	if cfg.Google.Enabled() && cfg.Google.StateSecret == "" {
		// Fall back to the API key so single-secret deployments work.
		cfg.Google.StateSecret = cfg.API.Key
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, "provider.api_key is required")
	}
	if c.Provider.Type != "anthropic" && c.Provider.Type != "openai" {
		errs = append(errs, fmt.Sprintf("provider.type %q is not supported", c.Provider.Type))
	}
	if c.Bitbucket.Token == "" {
		errs = append(errs, "bitbucket.token is required")
	}
	if c.Bitbucket.Workspace == "" {
		errs = append(errs, "bitbucket.workspace is required")
	}
	if c.Bitbucket.RepoSlug == "" {
		errs = append(errs, "bitbucket.repo_slug is required")
	}
	if c.Google.Enabled() && c.Google.StateSecret == "" {
		errs = append(errs, "google.state_secret is required when calendar is enabled")
	}
	if (c.Slack.BotToken == "") != (c.Slack.Channel == "") {
		errs = append(errs, "slack.bot_token and slack.channel must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstenv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
