package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models grievline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTTTLMinutes    int  `yaml:"jwt_ttl_minutes"`
		AllowActorHeader bool `yaml:"allow_actor_header"`
	} `yaml:"auth"`
	Categories  []string          `yaml:"categories"`
	Routing     map[string]string `yaml:"routing"`
	Departments []DepartmentSeed  `yaml:"departments"`
	Notifier    NotifierConfig    `yaml:"notifier"`
}

// DepartmentSeed is a department created at startup if missing.
type DepartmentSeed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type NotifierConfig struct {
	Store               bool            `yaml:"store"`
	Log                 bool            `yaml:"log"`
	Webhooks            []WebhookTarget `yaml:"webhooks"`
	Redis               RedisConfig     `yaml:"redis"`
	PollIntervalSeconds int             `yaml:"poll_interval_seconds"`
}

type WebhookTarget struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with gl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	seen := map[string]bool{}
	for _, cat := range c.Categories {
		if cat == "" {
			return fmt.Errorf("config.categories contains an empty entry")
		}
		if seen[cat] {
			return fmt.Errorf("config.categories lists %s twice", cat)
		}
		seen[cat] = true
	}
	deptIDs := map[string]bool{}
	for _, d := range c.Departments {
		if d.ID == "" {
			return fmt.Errorf("config.departments contains an entry without id")
		}
		if d.Name == "" {
			return fmt.Errorf("department %s has no name", d.ID)
		}
		if deptIDs[d.ID] {
			return fmt.Errorf("config.departments lists %s twice", d.ID)
		}
		deptIDs[d.ID] = true
	}
	for cat, dept := range c.Routing {
		if !seen[cat] {
			return fmt.Errorf("routing references unknown category %s", cat)
		}
		if dept == "" {
			return fmt.Errorf("routing for category %s is empty", cat)
		}
		if len(deptIDs) > 0 && !deptIDs[dept] {
			return fmt.Errorf("routing for category %s references unknown department %s", cat, dept)
		}
	}
	for i, hook := range c.Notifier.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("notifier.webhooks[%d] has no url", i)
		}
	}
	if c.Notifier.Redis.Addr != "" && c.Notifier.Redis.Channel == "" {
		return fmt.Errorf("notifier.redis.channel is required when notifier.redis.addr is set")
	}
	if c.Notifier.PollIntervalSeconds < 0 {
		return fmt.Errorf("notifier.poll_interval_seconds must not be negative")
	}
	if c.Auth.JWTTTLMinutes < 0 {
		return fmt.Errorf("auth.jwt_ttl_minutes must not be negative")
	}
	return nil
}

// HasCategory reports whether the catalog contains the category.
func (c *Config) HasCategory(category string) bool {
	for _, cat := range c.Categories {
		if cat == category {
			return true
		}
	}
	return false
}

// RouteDepartment returns the default department for a category.
func (c *Config) RouteDepartment(category string) (string, bool) {
	dept, ok := c.Routing[category]
	return dept, ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "grievline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_ttl_minutes: 60
  allow_actor_header: false

categories:
  - roads
  - water
  - sanitation
  - electricity
  - streetlight
  - other

routing:
  roads: dept-roads
  water: dept-water
  sanitation: dept-sanitation
  electricity: dept-power
  streetlight: dept-power
  other: dept-general

departments:
  - id: dept-roads
    name: Roads & Public Works
  - id: dept-water
    name: Water Supply
  - id: dept-sanitation
    name: Sanitation
  - id: dept-power
    name: Electricity
  - id: dept-general
    name: General Administration

notifier:
  store: true
  log: true
  poll_interval_seconds: 2
`
