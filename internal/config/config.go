// Package config loads runtime configuration from defaults, an optional
// JSON file and COHERENCE_* environment variables, in that order of
// precedence (later wins).
//
// Environment keys use "__" as the nesting separator, so
// COHERENCE_CACHE__TTL sets cache.ttl. Map keys (weights, severities) are
// matched case-insensitively.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dshills/coherence/internal/antigaming"
	"github.com/dshills/coherence/internal/decay"
	"github.com/dshills/coherence/internal/events"
	"github.com/dshills/coherence/internal/schema"
	"github.com/dshills/coherence/internal/scoring"
)

// EnvPrefix is the prefix of recognized environment variables.
const EnvPrefix = "COHERENCE_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheBolt   = "bolt"
)

// Event backends.
const (
	EventsNone  = "none"
	EventsKafka = "kafka"
)

// LogConfig configures the process logger. When File is set, entries are
// written to both the console and the file.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// LLMConfig selects the reasoning provider for qualitative rules. An empty
// Provider disables qualitative rules.
type LLMConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
	MaxAttempts int     `koanf:"max_attempts"`
}

type EngineConfig struct {
	Parallelism int `koanf:"parallelism"`
	// CatalogPath replaces the built-in rule catalog when set.
	CatalogPath string `koanf:"catalog_path"`
}

type DecayConfig struct {
	BaseWeights map[string]float64 `koanf:"base_weights"`
	Factor      float64            `koanf:"factor"`
	Overrides   map[string]float64 `koanf:"overrides"`
}

type CacheConfig struct {
	Backend string        `koanf:"backend"`
	Path    string        `koanf:"path"`
	TTL     time.Duration `koanf:"ttl"`
}

// HistoryConfig points at the SQLite event history. An empty Path disables
// history lookups.
type HistoryConfig struct {
	Path     string        `koanf:"path"`
	Lookback time.Duration `koanf:"lookback"`
}

type EventsConfig struct {
	Backend string             `koanf:"backend"`
	Kafka   events.KafkaConfig `koanf:"kafka"`
}

type ThresholdConfig struct {
	ScoreLow     int `koanf:"score_low"`
	Recalculated int `koanf:"recalculated"`
}

// MetricsConfig writes the metrics registry to a node-exporter textfile
// after each command when Textfile is set.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// Config is the full runtime configuration.
type Config struct {
	Log        LogConfig          `koanf:"log"`
	LLM        LLMConfig          `koanf:"llm"`
	Engine     EngineConfig       `koanf:"engine"`
	Weights    map[string]float64 `koanf:"weights"`
	Decay      DecayConfig        `koanf:"decay"`
	AntiGaming antigaming.Config  `koanf:"antigaming"`
	Cache      CacheConfig        `koanf:"cache"`
	History    HistoryConfig      `koanf:"history"`
	Events     EventsConfig       `koanf:"events"`
	Thresholds ThresholdConfig    `koanf:"thresholds"`
	Metrics    MetricsConfig      `koanf:"metrics"`
}

func defaults() map[string]any {
	ag := antigaming.DefaultConfig()
	m := map[string]any{
		"log.level":                          "info",
		"log.format":                         "text",
		"llm.max_tokens":                     1024,
		"llm.temperature":                    0.0,
		"llm.max_attempts":                   2,
		"engine.parallelism":                 0,
		"decay.factor":                       decay.DefaultConfig().Factor,
		"antigaming.mass_change_window":      ag.MassChangeWindow.String(),
		"antigaming.mass_change_max":         ag.MassChangeMax,
		"antigaming.mass_change_penalty":     ag.MassChangePenalty,
		"antigaming.resolve_threshold":       ag.ResolveThreshold,
		"antigaming.resolve_penalty":         ag.ResolvePenalty,
		"antigaming.high_score_threshold":    ag.HighScoreThreshold,
		"antigaming.min_documents":           ag.MinDocuments,
		"antigaming.high_score_penalty":      ag.HighScorePenalty,
		"antigaming.weight_change_window":    ag.WeightChangeWindow.String(),
		"antigaming.weight_change_threshold": ag.WeightChangeThreshold,
		"antigaming.weight_change_penalty":   ag.WeightChangePenalty,
		"cache.backend":                      CacheMemory,
		"cache.ttl":                          "1h",
		"history.lookback":                   "24h",
		"events.backend":                     EventsNone,
		"events.kafka.topic":                 "coherence.events",
		"thresholds.score_low":               70,
		"thresholds.recalculated":            10,
	}
	return m
}

// Load reads defaults, then path (when non-empty), then the environment.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			key = strings.ReplaceAll(key, "__", ".")
			if key == "events.kafka.brokers" {
				return key, strings.Split(value, ",")
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	// Map sections are defaulted after decoding; keys may be in any case.
	if len(cfg.Weights) == 0 {
		cfg.Weights = make(map[string]float64)
		for c, w := range scoring.DefaultWeights() {
			cfg.Weights[string(c)] = w
		}
	}
	if cfg.Decay.BaseWeights == nil {
		cfg.Decay.BaseWeights = make(map[string]float64)
	}
	for sev, w := range decay.DefaultConfig().BaseWeights {
		if !hasFold(cfg.Decay.BaseWeights, string(sev)) {
			cfg.Decay.BaseWeights[string(sev)] = w
		}
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	switch c.LLM.Provider {
	case "", "anthropic", "openai", "google":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.Provider != "" && c.LLM.Model == "" {
		errs = append(errs, "llm.model is required when llm.provider is set")
	}
	if c.Engine.Parallelism < 0 {
		errs = append(errs, "engine.parallelism must not be negative")
	}
	if _, err := c.CategoryWeights(); err != nil {
		errs = append(errs, err.Error())
	}
	if dc, err := c.DecayConfig(); err != nil {
		errs = append(errs, err.Error())
	} else {
		for _, e := range dc.Validate() {
			errs = append(errs, "decay: "+e)
		}
	}
	for _, e := range c.AntiGaming.Validate() {
		errs = append(errs, "antigaming: "+e)
	}
	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheBolt:
		if c.Cache.Path == "" {
			errs = append(errs, "cache.path is required for the bolt backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q is not one of none, memory, bolt", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl must not be negative")
	}
	if c.History.Lookback <= 0 {
		errs = append(errs, "history.lookback must be positive")
	}
	switch c.Events.Backend {
	case EventsNone:
	case EventsKafka:
		if len(c.Events.Kafka.Brokers) == 0 {
			errs = append(errs, "events.kafka.brokers is required for the kafka backend")
		}
		if c.Events.Kafka.Topic == "" {
			errs = append(errs, "events.kafka.topic is required for the kafka backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("events.backend %q is not one of none, kafka", c.Events.Backend))
	}
	if c.Thresholds.ScoreLow < 0 || c.Thresholds.ScoreLow > 100 {
		errs = append(errs, "thresholds.score_low must be in [0, 100]")
	}
	if c.Thresholds.Recalculated < 0 {
		errs = append(errs, "thresholds.recalculated must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// CategoryWeights converts the configured weights and validates them.
func (c *Config) CategoryWeights() (schema.CategoryWeights, error) {
	w := make(schema.CategoryWeights, len(c.Weights))
	for _, k := range sortedKeys(c.Weights) {
		cat, err := schema.ParseCategory(k)
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		if _, dup := w[cat]; dup {
			return nil, fmt.Errorf("weights: %s given more than once", cat)
		}
		w[cat] = c.Weights[k]
	}
	if err := scoring.ValidateWeights(w); err != nil {
		return nil, err
	}
	return w, nil
}

// DecayConfig converts the decay section. The result is not validated.
func (c *Config) DecayConfig() (decay.Config, error) {
	out := decay.Config{
		BaseWeights: make(map[schema.Severity]float64, len(c.Decay.BaseWeights)),
		Factor:      c.Decay.Factor,
		Overrides:   c.Decay.Overrides,
	}
	for _, k := range sortedKeys(c.Decay.BaseWeights) {
		sev, err := schema.ParseSeverity(k)
		if err != nil {
			return decay.Config{}, fmt.Errorf("decay.base_weights: %w", err)
		}
		if _, dup := out.BaseWeights[sev]; dup {
			return decay.Config{}, fmt.Errorf("decay.base_weights: %s given more than once", sev)
		}
		out.BaseWeights[sev] = c.Decay.BaseWeights[k]
	}
	return out, nil
}

func hasFold(m map[string]float64, key string) bool {
	for k := range m {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
