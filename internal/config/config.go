package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models staffline.yml.
type Config struct {
	Reconcile struct {
		Interval      string `yaml:"interval"`
		FirstRunDelay string `yaml:"first_run_delay"`
		OnStartup     bool   `yaml:"on_startup"`
	} `yaml:"reconcile"`
	Dashboard struct {
		EndingSoonDays int `yaml:"ending_soon_days"`
	} `yaml:"dashboard"`
	Bootstrap struct {
		Admin BootstrapUser `yaml:"admin"`
	} `yaml:"bootstrap"`
	Log     LogConfig `yaml:"log"`
	History struct {
		PollInterval string          `yaml:"poll_interval"`
		Webhooks     []WebhookConfig `yaml:"webhooks"`
	} `yaml:"history"`
	Notify struct {
		SMTP SMTPConfig `yaml:"smtp"`
	} `yaml:"notify"`
}

type BootstrapUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig is one audit event subscriber. Events filters by activity type; empty means all.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := parseDuration("reconcile.interval", c.Reconcile.Interval); err != nil {
		return err
	}
	if _, err := parseDuration("reconcile.first_run_delay", c.Reconcile.FirstRunDelay); err != nil {
		return err
	}
	if _, err := parseDuration("history.poll_interval", c.History.PollInterval); err != nil {
		return err
	}
	if c.Dashboard.EndingSoonDays < 0 {
		return fmt.Errorf("config.dashboard.ending_soon_days must not be negative")
	}
	if lvl := strings.ToLower(c.Log.Level); lvl != "" && !logLevels[lvl] {
		return fmt.Errorf("config.log.level %q is not a known level", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	admin := c.Bootstrap.Admin
	if admin.ID != "" || admin.Email != "" {
		if admin.ID == "" || admin.Email == "" {
			return fmt.Errorf("config.bootstrap.admin requires both id and email")
		}
		if _, err := mail.ParseAddress(admin.Email); err != nil {
			return fmt.Errorf("config.bootstrap.admin.email: %w", err)
		}
	}
	for i, hook := range c.History.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.history.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.history.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if s := c.Notify.SMTP; s.Enabled {
		if s.Host == "" || s.Port == "" {
			return fmt.Errorf("config.notify.smtp requires host and port when enabled")
		}
		if s.From == "" {
			return fmt.Errorf("config.notify.smtp.from is required when enabled")
		}
	}
	return nil
}

func parseDuration(field, v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config.%s must not be negative", field)
	}
	return d, nil
}

// ReconcileInterval returns the scheduler period, defaulting to 24h.
func (c *Config) ReconcileInterval() time.Duration {
	d, _ := parseDuration("reconcile.interval", c.Reconcile.Interval)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// ReconcileFirstRunDelay returns the delay before the first scheduled pass.
func (c *Config) ReconcileFirstRunDelay() time.Duration {
	d, _ := parseDuration("reconcile.first_run_delay", c.Reconcile.FirstRunDelay)
	return d
}

// HistoryPollInterval returns how often the audit dispatcher polls for new events.
func (c *Config) HistoryPollInterval() time.Duration {
	d, _ := parseDuration("history.poll_interval", c.History.PollInterval)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// EndingSoonDays returns the dashboard look-ahead window.
func (c *Config) EndingSoonDays() int {
	if c.Dashboard.EndingSoonDays == 0 {
		return 7
	}
	return c.Dashboard.EndingSoonDays
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "staffline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(adminEmail string) string {
	return fmt.Sprintf(defaultTemplate, adminEmail)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault loads the workspace config, falling back to Default.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	return cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("admin@staffline.local"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `reconcile:
  # how often assignment, resource and project statuses are re-derived
  interval: 24h
  first_run_delay: 10s
  on_startup: true

dashboard:
  ending_soon_days: 7

bootstrap:
  admin:
    id: admin
    name: Administrator
    email: %s

log:
  level: info
  format: text

history:
  poll_interval: 2s
  webhooks: []

notify:
  smtp:
    enabled: false
    host: ""
    port: "587"
    user: ""
    password: ""
    from: ""
    tls: false
`
