package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"buildline/internal/domain"
	"buildline/internal/query"
	"buildline/internal/view"
)

// Config models buildline.yml.
type Config struct {
	Project struct {
		ID         string `yaml:"id"`
		Name       string `yaml:"name"`
		CodePrefix string `yaml:"code_prefix"`
		Currency   string `yaml:"currency"`
	} `yaml:"project"`
	Views struct {
		Default       string `yaml:"default"`
		GroupBy       string `yaml:"group_by"`
		Sort          string `yaml:"sort"`
		Dir           string `yaml:"dir"`
		ShowCompleted bool   `yaml:"show_completed"`
	} `yaml:"views"`
	People   []PersonEntry  `yaml:"people"`
	Webhooks []WebhookEntry `yaml:"webhooks"`
}

type PersonEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// WebhookEntry configures one outbound notification target. Events lists the
// event types to deliver; empty means all.
type WebhookEntry struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with bl init", path)
	}
	return cfg, err
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Views.Default != "" && !view.ValidKind(view.Kind(c.Views.Default)) {
		return fmt.Errorf("config.views.default %q is not a view", c.Views.Default)
	}
	switch query.GroupKey(c.Views.GroupBy) {
	case "", query.GroupNone, query.GroupStatus, query.GroupPriority, query.GroupAssignee:
	default:
		return fmt.Errorf("config.views.group_by %q is not a group key", c.Views.GroupBy)
	}
	switch query.SortKey(c.Views.Sort) {
	case "", query.SortDueDate, query.SortPriority, query.SortStatus,
		query.SortTitle, query.SortProgress, query.SortCreatedAt:
	default:
		return fmt.Errorf("config.views.sort %q is not a sort key", c.Views.Sort)
	}
	switch query.Direction(c.Views.Dir) {
	case "", query.Asc, query.Desc:
	default:
		return fmt.Errorf("config.views.dir must be asc or desc")
	}
	seen := map[string]bool{}
	for i, p := range c.People {
		if p.ID == "" {
			return fmt.Errorf("config.people[%d] has empty id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("config.people has duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "buildline.yml")
}

// Person resolves a configured person by id, falling back to a bare entry.
func (c *Config) Person(id string) domain.Person {
	for _, p := range c.People {
		if p.ID == id {
			return domain.Person{ID: p.ID, Name: p.Name, Role: p.Role}
		}
	}
	return domain.Person{ID: id}
}

// QueryDefaults translates the views section into engine options.
func (c *Config) QueryDefaults() query.Options {
	return query.Options{
		GroupBy:       query.GroupKey(c.Views.GroupBy),
		Sort:          query.SortKey(c.Views.Sort),
		Dir:           query.Direction(c.Views.Dir),
		ShowCompleted: c.Views.ShowCompleted,
	}
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  name: %s
  code_prefix: ""
  currency: EUR

views:
  default: list
  group_by: none
  sort: due_date
  dir: asc
  show_completed: false

people: []

webhooks: []
`
