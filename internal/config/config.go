// Package config loads and validates the proxy configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plexo-dev/plexo/internal/reasoning"
	"github.com/plexo-dev/plexo/internal/router"
)

// Defaults applied when the file omits a value.
const (
	DefaultPort              = 8082
	DefaultRequestTimeout    = Duration(120 * time.Second)
	DefaultStreamIdleTimeout = Duration(60 * time.Second)
	DefaultMaxRetries        = 2
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s". Bare integers are taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or a number of seconds")
	}
	parsed, perr := time.ParseDuration(s)
	if perr != nil {
		return fmt.Errorf("invalid duration %q: %w", s, perr)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full proxy configuration.
type Config struct {
	Server       Server             `yaml:"server"`
	Log          Log                `yaml:"log"`
	Reasoning    *Reasoning         `yaml:"reasoning"`
	Routes       []Route            `yaml:"routes"`
	ToolDialects map[string]Dialect `yaml:"tool_dialects"`

	// Path the config was loaded from; used by the watcher.
	Path string `yaml:"-"`
}

// Server holds transport settings.
type Server struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	AuthSecret        string   `yaml:"auth_secret"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	StreamIdleTimeout Duration `yaml:"stream_idle_timeout"`
	MaxRetries        int      `yaml:"max_retries"`
}

// Log holds logging settings.
type Log struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// Reasoning is the YAML shape of a reasoning default. Effort selects the
// OpenAI effort variant; Budget selects a thinking variant shaped by the
// target model's family.
type Reasoning struct {
	Effort    string `yaml:"effort"`
	Budget    int    `yaml:"budget"`
	Exclude   bool   `yaml:"exclude"`
	Verbosity string `yaml:"verbosity"`
}

// Route maps a requested model pattern to an upstream target.
type Route struct {
	Model        string             `yaml:"model"`
	Target       string             `yaml:"target"`
	BaseURL      string             `yaml:"base_url"`
	APIKey       string             `yaml:"api_key"`
	Reasoning    *Reasoning         `yaml:"reasoning"`
	ToolDialects map[string]Dialect `yaml:"tool_dialects"`
}

// Dialect declares a tool whose upstream argument key differs from the
// client's canonical key.
type Dialect struct {
	UpstreamKey string `yaml:"upstream_key"`
	ClientKey   string `yaml:"client_key"`
}

// Load reads, expands, and validates the config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Path = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.StreamIdleTimeout == 0 {
		c.Server.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = DefaultMaxRetries
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.AuthSecret == "" {
		c.Server.AuthSecret = os.Getenv("PLEXO_AUTH_SECRET")
	}
}

// Validate checks the loaded config for structural problems.
func (c *Config) Validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("config has no routes")
	}
	for i, r := range c.Routes {
		if r.Model == "" {
			return fmt.Errorf("route %d has no model pattern", i)
		}
		if r.BaseURL == "" {
			return fmt.Errorf("route %q has no base_url", r.Model)
		}
	}
	for name, d := range c.ToolDialects {
		if d.UpstreamKey == "" || d.ClientKey == "" {
			return fmt.Errorf("tool_dialect %q needs both upstream_key and client_key", name)
		}
	}
	return nil
}

// BuildRoutes converts the config into the router's route table. API keys
// support ${VAR} environment expansion; per-route dialects extend the
// global table.
func (c *Config) BuildRoutes() []router.Route {
	routes := make([]router.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		dialects := make(map[string]router.ToolDialect, len(c.ToolDialects)+len(r.ToolDialects))
		for name, d := range c.ToolDialects {
			dialects[name] = router.ToolDialect{UpstreamKey: d.UpstreamKey, ClientKey: d.ClientKey}
		}
		for name, d := range r.ToolDialects {
			dialects[name] = router.ToolDialect{UpstreamKey: d.UpstreamKey, ClientKey: d.ClientKey}
		}

		target := r.Target
		reasoningDefault := r.Reasoning
		if reasoningDefault == nil {
			reasoningDefault = c.Reasoning
		}

		routes = append(routes, router.Route{
			Pattern:           r.Model,
			TargetModel:       target,
			BaseURL:           r.BaseURL,
			APIKey:            os.ExpandEnv(r.APIKey),
			ReasoningDefaults: buildReasoning(targetOr(target, r.Model), reasoningDefault),
			ToolDialects:      dialects,
		})
	}
	return routes
}

func targetOr(target, fallback string) string {
	if target != "" {
		return target
	}
	return fallback
}

// buildReasoning shapes a YAML reasoning default for the route's target
// family. Defaults that fit no family are dropped here rather than at
// request time.
func buildReasoning(target string, rc *Reasoning) *reasoning.Config {
	if rc == nil {
		return nil
	}
	family := reasoning.DetectFamily(target)
	cfg := &reasoning.Config{Exclude: rc.Exclude, Verbosity: rc.Verbosity}
	switch family {
	case reasoning.FamilyOpenAI:
		cfg.Kind = reasoning.KindOpenAIEffort
		cfg.Effort = rc.Effort
		if cfg.Effort == "" {
			cfg.Effort = "medium"
		}
	case reasoning.FamilyAnthropic:
		cfg.Kind = reasoning.KindAnthropicThinking
		cfg.Budget = rc.Budget
	case reasoning.FamilyGemini:
		cfg.Kind = reasoning.KindGeminiThinking
		cfg.Budget = rc.Budget
	default:
		return nil
	}
	return cfg
}
