package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/credentials"
	"github.com/tnunamak/clawtray/internal/oauth"
)

const (
	DefaultConfigPath      = "~/.config/clawtray/config.yaml"
	DefaultCredentialsPath = "~/.config/clawtray/credentials.json"
	EnvPrefix              = "CLAWTRAY_"
)

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" env:"CLIENT_ID"`
	AuthorizeURL string   `yaml:"authorize_url" env:"AUTHORIZE_URL"`
	TokenURL     string   `yaml:"token_url" env:"TOKEN_URL"`
	Scopes       []string `yaml:"scopes" env:"SCOPES" envSeparator:","`
}

type UsageConfig struct {
	URL        string        `yaml:"url" env:"URL"`
	BetaHeader string        `yaml:"beta_header" env:"BETA_HEADER"`
	UserAgent  string        `yaml:"user_agent" env:"USER_AGENT"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type Config struct {
	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	CallbackPort     int           `yaml:"callback_port" env:"CALLBACK_PORT"`
	CallbackTimeout  time.Duration `yaml:"callback_timeout" env:"CALLBACK_TIMEOUT"`
	CredentialsPath  string        `yaml:"credentials_path" env:"CREDENTIALS_PATH"`
	WatchCredentials bool          `yaml:"watch_credentials" env:"WATCH_CREDENTIALS"`
	MetricsAddr      string        `yaml:"metrics_addr" env:"METRICS_ADDR"`

	Log   LogConfig   `yaml:"log" envPrefix:"LOG_"`
	OAuth OAuthConfig `yaml:"oauth" envPrefix:"OAUTH_"`
	Usage UsageConfig `yaml:"usage" envPrefix:"USAGE_"`
}

func Default() Config {
	return Config{
		PollInterval:     5 * time.Minute,
		CallbackPort:     oauth.DefaultCallbackPort,
		CallbackTimeout:  oauth.DefaultCallbackTimeout,
		CredentialsPath:  DefaultCredentialsPath,
		WatchCredentials: true,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		OAuth: OAuthConfig{
			ClientID:     oauth.DefaultClientID,
			AuthorizeURL: oauth.DefaultAuthorizeURL,
			TokenURL:     oauth.DefaultTokenURL,
			Scopes:       append([]string(nil), oauth.DefaultScopes...),
		},
		Usage: UsageConfig{
			URL:        api.DefaultUsageURL,
			BetaHeader: api.DefaultBetaHeader,
			UserAgent:  api.DefaultUserAgent,
			Timeout:    api.DefaultTimeout,
		},
	}
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return "", fmt.Errorf("resolve home dir: %w", credentials.ErrEnvironmentMissing)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Clean(path), nil
}

// Load reads the YAML file at path over the defaults, then applies
// CLAWTRAY_* environment variables. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigPath
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return cfg, fmt.Errorf("expand config path: %w", err)
	}

	data, err := os.ReadFile(expanded)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", expanded, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	cfg.CredentialsPath, err = ExpandPath(cfg.CredentialsPath)
	if err != nil {
		return cfg, fmt.Errorf("expand credentials path: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("callback_timeout must be positive, got %s", c.CallbackTimeout)
	}
	if c.Usage.Timeout <= 0 {
		return fmt.Errorf("usage.timeout must be positive, got %s", c.Usage.Timeout)
	}
	if c.CallbackPort < 1 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback_port out of range: %d", c.CallbackPort)
	}
	if c.OAuth.ClientID == "" {
		return errors.New("oauth.client_id is empty")
	}
	for name, raw := range map[string]string{
		"oauth.authorize_url": c.OAuth.AuthorizeURL,
		"oauth.token_url":     c.OAuth.TokenURL,
		"usage.url":           c.Usage.URL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

func (c Config) Provider() oauth.Provider {
	return oauth.Provider{
		ClientID:     c.OAuth.ClientID,
		AuthorizeURL: c.OAuth.AuthorizeURL,
		TokenURL:     c.OAuth.TokenURL,
		Scopes:       c.OAuth.Scopes,
		CallbackPort: c.CallbackPort,
	}
}

func (c Config) UsageOptions() api.Options {
	return api.Options{
		UsageURL:   c.Usage.URL,
		BetaHeader: c.Usage.BetaHeader,
		UserAgent:  c.Usage.UserAgent,
		Timeout:    c.Usage.Timeout,
	}
}
