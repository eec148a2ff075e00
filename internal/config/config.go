package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"gigescrow/internal/domain"
)

// MaxFeeBps is 100%.
const MaxFeeBps = 10_000

// Config models gigescrow.yml. The deployment block is fixed once the engine
// is constructed.
type Config struct {
	Deployment Deployment      `yaml:"deployment" json:"deployment"`
	Log        LogConfig       `yaml:"log" json:"log"`
	Server     ServerConfig    `yaml:"server" json:"server"`
	Webhooks   []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type Deployment struct {
	Owner          string `yaml:"owner" json:"owner"`
	Marketplace    string `yaml:"marketplace" json:"marketplace"`
	Treasury       string `yaml:"treasury" json:"treasury"`
	ProtocolFeeBps uint32 `yaml:"protocol_fee_bps" json:"protocol_fee_bps"`
	Currency       string `yaml:"currency" json:"currency"`
	VaultAccount   string `yaml:"vault_account" json:"vault_account"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days,omitempty"`
}

type ServerConfig struct {
	Addr                   string `yaml:"addr" json:"addr"`
	BasePath               string `yaml:"base_path" json:"base_path"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	d := c.Deployment
	if strings.TrimSpace(d.Owner) == "" {
		return fmt.Errorf("config.deployment.owner is required")
	}
	if strings.TrimSpace(d.Marketplace) == "" {
		return fmt.Errorf("config.deployment.marketplace is required")
	}
	if strings.TrimSpace(d.Treasury) == "" {
		return fmt.Errorf("config.deployment.treasury is required")
	}
	if strings.TrimSpace(d.VaultAccount) == "" {
		return fmt.Errorf("config.deployment.vault_account is required")
	}
	if d.ProtocolFeeBps > MaxFeeBps {
		return fmt.Errorf("config.deployment.protocol_fee_bps %d exceeds %d: %w", d.ProtocolFeeBps, MaxFeeBps, domain.ErrInvalidRate)
	}
	if d.VaultAccount == d.Treasury {
		return fmt.Errorf("config.deployment.vault_account must differ from treasury")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigescrow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gig config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `deployment:
  owner: operator
  marketplace: marketplace
  treasury: treasury
  protocol_fee_bps: 250
  currency: USD
  vault_account: escrow-vault

log:
  level: info
  format: json

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  allow_legacy_actor_header: false
`
