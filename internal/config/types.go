package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rackwatch/rackwatch/internal/rules"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// Config holds every server-level option plus the rule and warehouse
// definitions once every configured source has been loaded.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Engine EngineConfig `koanf:"engine"`

	// Rules and Warehouses accept inline definitions in the main config file,
	// merged with whatever the document sources contribute.
	Rules      map[string]RuleDefinition      `koanf:"rules"`
	Warehouses map[string]WarehouseDefinition `koanf:"warehouses"`

	InlineRules      map[string]RuleDefinition      `koanf:"-"`
	InlineWarehouses map[string]WarehouseDefinition `koanf:"-"`

	// LoadedRules and LoadedWarehouses hold the merged, validated bundle.
	LoadedRules      []rules.Rule          `koanf:"-"`
	LoadedWarehouses []warehouse.Candidate `koanf:"-"`

	// DocumentSources records which files contributed definitions once the
	// loader resolves the configured sources.
	DocumentSources []string `koanf:"-"`
	// SkippedDefinitions captures duplicate or otherwise invalid definitions
	// the loader intentionally disabled. The health endpoint surfaces these so
	// operators know which definitions were quarantined.
	SkippedDefinitions []DefinitionSkip `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs for the HTTP service.
type ServerConfig struct {
	Listen     ListenConfig      `koanf:"listen"`
	Logging    LoggingConfig     `koanf:"logging"`
	Rules      RulesConfig       `koanf:"rules"`
	Warehouses WarehousesConfig  `koanf:"warehouses"`
	Cache      ServerCacheConfig `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RulesConfig announces how rule documents are sourced.
type RulesConfig struct {
	RulesFolder string `koanf:"rulesFolder"`
	RulesFile   string `koanf:"rulesFile"`
}

// WarehousesConfig announces how warehouse template documents are sourced.
type WarehousesConfig struct {
	WarehousesFolder string `koanf:"warehousesFolder"`
	WarehousesFile   string `koanf:"warehousesFile"`
}

// ServerCacheConfig selects and tunes the report cache backend.
type ServerCacheConfig struct {
	Backend    string                 `koanf:"backend"`
	TTLSeconds int                    `koanf:"ttlSeconds"`
	KeySalt    string                 `koanf:"keySalt"`
	Epoch      int                    `koanf:"epoch"`
	Redis      ServerRedisCacheConfig `koanf:"redis"`
}

// TTL converts the configured seconds into a duration.
func (c ServerCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// EngineConfig tunes the evaluation orchestrator.
type EngineConfig struct {
	PerRuleTimeoutMs           int                            `koanf:"perRuleTimeoutMs"`
	CanonicalCacheSize         int                            `koanf:"canonicalCacheSize"`
	ParallelEvaluators         int                            `koanf:"parallelEvaluators"`
	ObviousViolationMultiplier float64                        `koanf:"obviousViolationMultiplier"`
	Confidence                 warehouse.ConfidenceThresholds `koanf:"confidence"`
}

// PerRuleTimeout converts the configured milliseconds into a duration.
func (c EngineConfig) PerRuleTimeout() time.Duration {
	return time.Duration(c.PerRuleTimeoutMs) * time.Millisecond
}

// DefinitionSkip describes a definition the loader intentionally ignored
// because it violated invariants (for example duplicate ids across files).
type DefinitionSkip struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

// RuleDefinition is the document shape of one anomaly rule. The map key it
// sits under becomes the rule id; IsActive defaults to true when omitted.
type RuleDefinition struct {
	Name             string         `koanf:"name"`
	Type             string         `koanf:"type"`
	CategoryPriority string         `koanf:"categoryPriority"`
	Severity         string         `koanf:"severity"`
	IsActive         *bool          `koanf:"isActive"`
	Conditions       map[string]any `koanf:"conditions"`
	Parameters       map[string]any `koanf:"parameters"`
}

// Rule converts the definition into the engine's rule model.
func (d RuleDefinition) Rule(id string) (rules.Rule, error) {
	r := rules.Rule{
		ID:               id,
		Name:             d.Name,
		Type:             rules.RuleType(strings.ToUpper(strings.TrimSpace(d.Type))),
		CategoryPriority: rules.Category(strings.ToUpper(strings.TrimSpace(d.CategoryPriority))),
		Severity:         rules.Severity(strings.ToUpper(strings.TrimSpace(d.Severity))),
		IsActive:         true,
	}
	if d.IsActive != nil {
		r.IsActive = *d.IsActive
	}
	if len(d.Conditions) > 0 {
		raw, err := json.Marshal(d.Conditions)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("config: rule %s conditions: %w", id, err)
		}
		r.Conditions = raw
	}
	if len(d.Parameters) > 0 {
		raw, err := json.Marshal(d.Parameters)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("config: rule %s parameters: %w", id, err)
		}
		r.Parameters = raw
	}
	return r, nil
}

// WarehouseDefinition is the document shape of one warehouse layout. The map
// key it sits under becomes the warehouse id unless the template names one.
type WarehouseDefinition warehouse.Template

// Candidate converts the definition into a resolver candidate.
func (d WarehouseDefinition) Candidate(id string) warehouse.Candidate {
	template := warehouse.Template(d)
	if template.WarehouseID == "" {
		template.WarehouseID = id
	}
	return warehouse.Candidate{WarehouseID: template.WarehouseID, Template: template}
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Rules.RulesFolder != "" && c.Server.Rules.RulesFile != "" {
		return errors.New("config: rulesFolder and rulesFile are mutually exclusive")
	}
	if c.Server.Warehouses.WarehousesFolder != "" && c.Server.Warehouses.WarehousesFile != "" {
		return errors.New("config: warehousesFolder and warehousesFile are mutually exclusive")
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	if c.Server.Cache.Epoch < 0 {
		return fmt.Errorf("config: server.cache.epoch invalid: %d", c.Server.Cache.Epoch)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis", "valkey":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if c.Engine.PerRuleTimeoutMs < 0 {
		return fmt.Errorf("config: engine.perRuleTimeoutMs invalid: %d", c.Engine.PerRuleTimeoutMs)
	}
	if c.Engine.CanonicalCacheSize < 0 {
		return fmt.Errorf("config: engine.canonicalCacheSize invalid: %d", c.Engine.CanonicalCacheSize)
	}
	if c.Engine.ParallelEvaluators < 0 {
		return fmt.Errorf("config: engine.parallelEvaluators invalid: %d", c.Engine.ParallelEvaluators)
	}
	if c.Engine.ObviousViolationMultiplier < 0 {
		return fmt.Errorf("config: engine.obviousViolationMultiplier invalid: %g", c.Engine.ObviousViolationMultiplier)
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Rules: RulesConfig{
				RulesFolder: "./rules",
			},
			Warehouses: WarehousesConfig{
				WarehousesFolder: "./warehouses",
			},
			Cache: ServerCacheConfig{
				Backend:    "memory",
				TTLSeconds: 300,
				Epoch:      1,
			},
		},
		Engine: EngineConfig{
			PerRuleTimeoutMs:           30000,
			CanonicalCacheSize:         10000,
			ObviousViolationMultiplier: 2.0,
			Confidence:                 warehouse.DefaultConfidenceThresholds(),
		},
	}
}
