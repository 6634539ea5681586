// Package config loads the application configuration: a YAML file for
// endpoints and timeouts, with client credentials provisioned out-of-band
// through the environment so secrets never live in the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/rrogntudju/userinfos/oidc"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "150s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"150s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Listener  ListenerConfig   `yaml:"listener"`
	Providers []ProviderConfig `yaml:"providers"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the address the relying-party server listens on.
	Addr string `yaml:"addr"`

	// BaseURL is the externally visible origin, used to build the /auth
	// redirect URL registered with the providers.
	BaseURL string `yaml:"base_url"`

	// StaticDir is served under /static.
	StaticDir string `yaml:"static_dir"`

	// PendingTTL bounds how long an authorization attempt may stay pending
	// before the session is evicted.
	PendingTTL Duration `yaml:"pending_ttl"`

	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type ListenerConfig struct {
	// Port is the fixed loopback port registered with the providers as the
	// desktop redirect URI (http://localhost:<port>).
	Port int `yaml:"port"`

	// Timeout is how long the loopback listener waits for the user to finish
	// the browser flow.
	Timeout Duration `yaml:"timeout"`
}

type ProviderConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`

	// Endpoint overrides, mainly for tests and local providers. All three
	// must be set together.
	AuthURL     string `yaml:"auth_url"`
	TokenURL    string `yaml:"token_url"`
	UserInfoURL string `yaml:"userinfo_url"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// secrets are the credentials provisioned through the environment. They take
// precedence over anything found in the YAML file.
type secrets struct {
	MicrosoftClientID     string `env:"USERINFOS_MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `env:"USERINFOS_MICROSOFT_CLIENT_SECRET"`
	GoogleClientID        string `env:"USERINFOS_GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"USERINFOS_GOOGLE_CLIENT_SECRET"`
}

// Load reads the YAML config at path, applies defaults, overlays secrets from
// the environment and validates the result.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read config file: %w", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: unable to parse config file: %w", op, err)
	}
	cfg.setDefaults()
	if err := cfg.loadSecretsFromEnv(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8000"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8000"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "static"
	}
	if c.Server.PendingTTL == 0 {
		c.Server.PendingTTL = Duration(oidc.DefaultRequestExpiry)
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if c.Listener.Port == 0 {
		c.Listener.Port = 86
	}
	if c.Listener.Timeout == 0 {
		c.Listener.Timeout = Duration(150 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{
			{Name: string(oidc.Microsoft)},
			{Name: string(oidc.Google)},
		}
	}
}

func (c *Config) loadSecretsFromEnv() error {
	var s secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("unable to read secrets from environment: %w", err)
	}
	for i := range c.Providers {
		name, err := oidc.ParseProviderName(c.Providers[i].Name)
		if err != nil {
			continue // reported by Validate
		}
		switch name {
		case oidc.Microsoft:
			if s.MicrosoftClientID != "" {
				c.Providers[i].ClientID = s.MicrosoftClientID
			}
			if s.MicrosoftClientSecret != "" {
				c.Providers[i].ClientSecret = s.MicrosoftClientSecret
			}
		case oidc.Google:
			if s.GoogleClientID != "" {
				c.Providers[i].ClientID = s.GoogleClientID
			}
			if s.GoogleClientSecret != "" {
				c.Providers[i].ClientSecret = s.GoogleClientSecret
			}
		}
	}
	return nil
}

// Validate reports every problem found, not just the first one.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var result *multierror.Error
	if c.Listener.Port <= 0 || c.Listener.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("%s: listener port %d is invalid: %w", op, c.Listener.Port, oidc.ErrConfiguration))
	}
	if len(c.Providers) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: no providers configured: %w", op, oidc.ErrConfiguration))
	}
	for _, p := range c.Providers {
		name, err := oidc.ParseProviderName(p.Name)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op, err))
			continue
		}
		if p.ClientID == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s client id is empty: %w", op, name, oidc.ErrConfiguration))
		}
		if p.ClientSecret == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s client secret is empty: %w", op, name, oidc.ErrConfiguration))
		}
	}
	return result.ErrorOrNil()
}

// Registry builds the provider registry described by the configuration.
func (c *Config) Registry() (*oidc.Registry, error) {
	const op = "config.Registry"
	providers := make([]*oidc.Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		name, err := oidc.ParseProviderName(pc.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		var opts []oidc.Option
		if pc.AuthURL != "" {
			opts = append(opts, oidc.WithEndpoints(pc.AuthURL, pc.TokenURL, pc.UserInfoURL))
		}
		if len(pc.Scopes) > 0 {
			opts = append(opts, oidc.WithScopes(pc.Scopes...))
		}
		p, err := oidc.NewProvider(name, pc.ClientID, oidc.ClientSecret(pc.ClientSecret), opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		providers = append(providers, p)
	}
	registry, err := oidc.NewRegistry(providers...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return registry, nil
}
