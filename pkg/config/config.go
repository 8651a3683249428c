package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `json:"app" yaml:"app"`
	Gateways   map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory     MemoryConfig              `json:"memory" yaml:"memory"`
	Records    RecordsConfig             `json:"records" yaml:"records"`
	Workflow   WorkflowConfig            `json:"workflow" yaml:"workflow"`
	Prompts    PromptsConfig             `json:"prompts" yaml:"prompts"`
	Metrics    MetricsConfig             `json:"metrics" yaml:"metrics"`
	Governance GovernanceConfig          `json:"governance" yaml:"governance"`
}

type AppConfig struct {
	Name    string `json:"name" yaml:"name"`
	Verbose bool   `json:"verbose" yaml:"verbose"`
}

// GatewayConfig covers both the HTTP front door and the chat bots; each
// gateway reads the fields that apply to it.
type GatewayConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	Token              string   `json:"token,omitempty" yaml:"token,omitempty"`
	Addr               string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	CORSOrigins        []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty" yaml:"rate_limit_per_minute,omitempty"`
	DefaultReference   string   `json:"default_reference,omitempty" yaml:"default_reference,omitempty"`
}

type ProviderConfig struct {
	APIKey      string  `json:"api_key" yaml:"api_key"`
	Model       string  `json:"model" yaml:"model"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

type MemoryConfig struct {
	Type          string   `json:"type" yaml:"type"`
	Path          string   `json:"path" yaml:"path"`
	RedisAddr     string   `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string   `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	Prefix        string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	TTL           Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	HistoryWindow int      `json:"history_window,omitempty" yaml:"history_window,omitempty"`
}

type RecordsConfig struct {
	Path string `json:"path" yaml:"path"`
	// Seed is an optional JSON file of client records loaded at startup.
	Seed string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

type WorkflowConfig struct {
	QuestionSource    string   `json:"question_source" yaml:"question_source"`
	StartToken        string   `json:"start_token" yaml:"start_token"`
	GeneratorTimeout  Duration `json:"generator_timeout" yaml:"generator_timeout"`
	GeneratorFallback bool     `json:"generator_fallback" yaml:"generator_fallback"`
	MaxToolSteps      int      `json:"max_tool_steps" yaml:"max_tool_steps"`
}

type PromptsConfig struct {
	Directory string `json:"directory" yaml:"directory"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// GovernanceConfig restricts the tools the responder may call on top of the
// built-in identity field protection.
type GovernanceConfig struct {
	DeniedTools []string `json:"denied_tools,omitempty" yaml:"denied_tools,omitempty"`
	// DeniedPatterns are regular expressions matched against raw tool arguments.
	DeniedPatterns []string `json:"denied_patterns,omitempty" yaml:"denied_patterns,omitempty"`
}

const (
	MemorySQLite = "sqlite"
	MemoryRedis  = "redis"

	SourceSchema = "schema"
	SourceLLM    = "llm"
)

// LoadConfig reads a JSON or YAML config file (chosen by extension). A .env
// file next to the working directory is loaded first, and ${VAR} references
// in the file are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(filepath.Ext(path), raw)
}

// Parse decodes config bytes. ext selects the format: ".yaml"/".yml" or JSON otherwise.
func Parse(ext string, raw []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(raw)))

	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		if err := json.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "intake"
	}
	if c.Gateways == nil {
		c.Gateways = make(map[string]GatewayConfig)
	}
	httpCfg, ok := c.Gateways["http"]
	if !ok {
		httpCfg.Enabled = true
	}
	if httpCfg.Addr == "" {
		httpCfg.Addr = "0.0.0.0:8002"
	}
	if len(httpCfg.CORSOrigins) == 0 {
		httpCfg.CORSOrigins = []string{"*"}
	}
	if httpCfg.RateLimitPerMinute == 0 {
		httpCfg.RateLimitPerMinute = 60
	}
	c.Gateways["http"] = httpCfg

	for _, name := range []string{"telegram", "discord"} {
		g, ok := c.Gateways[name]
		if ok && g.DefaultReference == "" {
			g.DefaultReference = "individual"
			c.Gateways[name] = g
		}
	}

	if c.Memory.Type == "" {
		c.Memory.Type = MemorySQLite
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "intake.db"
	}
	if c.Memory.Prefix == "" {
		c.Memory.Prefix = "intake"
	}
	if c.Memory.TTL == 0 {
		c.Memory.TTL = Duration(12 * time.Hour)
	}
	if c.Memory.HistoryWindow == 0 {
		c.Memory.HistoryWindow = 6
	}
	if c.Records.Path == "" {
		c.Records.Path = "records.db"
	}
	if c.Workflow.QuestionSource == "" {
		c.Workflow.QuestionSource = SourceSchema
	}
	if c.Workflow.StartToken == "" {
		c.Workflow.StartToken = "start"
	}
	if c.Workflow.GeneratorTimeout == 0 {
		c.Workflow.GeneratorTimeout = Duration(25 * time.Second)
	}
	if c.Workflow.MaxToolSteps == 0 {
		c.Workflow.MaxToolSteps = 10
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Memory.Type {
	case MemorySQLite:
	case MemoryRedis:
		if c.Memory.RedisAddr == "" {
			return fmt.Errorf("memory.redis_addr is required for redis memory")
		}
	default:
		return fmt.Errorf("unknown memory type %q", c.Memory.Type)
	}
	switch c.Workflow.QuestionSource {
	case SourceSchema, SourceLLM:
	default:
		return fmt.Errorf("unknown workflow.question_source %q", c.Workflow.QuestionSource)
	}
	for name, g := range c.Gateways {
		if name != "http" && g.Enabled && g.Token == "" {
			return fmt.Errorf("gateway %s is enabled but has no token", name)
		}
	}
	for _, pattern := range c.Governance.DeniedPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid governance.denied_patterns entry %q: %w", pattern, err)
		}
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetHTTPConfig returns the HTTP gateway config if enabled.
func (c *Config) GetHTTPConfig() (GatewayConfig, bool) {
	g := c.Gateways["http"]
	return g, g.Enabled
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled {
		return tg, true
	}
	return GatewayConfig{}, false
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	dc, ok := c.Gateways["discord"]
	if ok && dc.Enabled {
		return dc, true
	}
	return GatewayConfig{}, false
}

// Duration decodes "25s"-style strings from both JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", string(b))
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
