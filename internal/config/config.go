package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hookahplus/internal/domain"
)

// Config models hookahplus.yml.
type Config struct {
	Lounge struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"lounge"`
	Workflow struct {
		DefaultTimerMinutes int `yaml:"default_timer_minutes"`
		// Permissions maps a button to the roles allowed to press it.
		// An empty list lets any role press the button.
		Permissions map[string][]string `yaml:"permissions"`
	} `yaml:"workflow"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Broker   BrokerConfig    `yaml:"broker"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type BrokerConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Lounge.ID == "" {
		return fmt.Errorf("config.lounge.id is required")
	}
	if c.Workflow.DefaultTimerMinutes <= 0 {
		return fmt.Errorf("config.workflow.default_timer_minutes must be positive")
	}
	if c.Workflow.Permissions == nil {
		return fmt.Errorf("config.workflow.permissions is required")
	}
	for button, roles := range c.Workflow.Permissions {
		if !domain.Button(button).Valid() {
			return fmt.Errorf("config.workflow.permissions has unknown button %s", button)
		}
		for _, role := range roles {
			if !domain.Role(role).Valid() {
				return fmt.Errorf("button %s references unknown role %s", button, role)
			}
		}
	}
	for _, b := range domain.Buttons {
		if _, ok := c.Workflow.Permissions[string(b)]; !ok {
			return fmt.Errorf("config.workflow.permissions missing button %s", b)
		}
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("config.storage.driver must be %q or %q", DriverSQLite, DriverMemory)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if !domain.Button(evt).Valid() {
				return fmt.Errorf("webhooks[%d] filters unknown button %s", i, evt)
			}
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if c.Broker.URL != "" && c.Broker.Exchange == "" {
		return fmt.Errorf("config.broker.exchange is required when broker.url is set")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hookahplus.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(loungeID string) string {
	return fmt.Sprintf(defaultTemplate, loungeID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a lounge.
func Default(loungeID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(loungeID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Broker.URL != "" && cfg.Broker.Exchange == "" {
		cfg.Broker.Exchange = "fire_sessions"
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

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `lounge:
  id: %s
  name: Hookah+ Lounge

workflow:
  default_timer_minutes: 60
  permissions:
    prep_started: [prep]
    flavor_locked: [prep]
    session_timer_armed: [prep]
    ready_for_delivery: [prep]

    picked_up: [front]
    delivered: [front]
    customer_confirmed: [customer]

    refill_requested: [customer]
    refill_delivered: [front]
    coals_burned_out: [customer]
    coals_delivered: [hookah_room]
    session_complete: [front]

    # staff override buttons: any role
    hold: []
    redo_remix: []
    swap_charcoal: []
    cancel: []
    return_to_prep: []
    resume: []

storage:
  driver: sqlite
`
