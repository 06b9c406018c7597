package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverBolt   = "bolt"
	DriverRedis  = "redis"
)

// ProviderHashing is the built-in offline embedder; it needs no provider entry.
const ProviderHashing = "hashing"

// Config holds the fwcache configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Semantic    SemanticConfig    `yaml:"semantic"`
	RAG         RAGConfig         `yaml:"rag"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds ops API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Vectorizer  string                      `yaml:"vectorizer"` // key into Vectorizers
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
	Cache       EmbeddingCacheConfig        `yaml:"cache"`
}

// EmbeddingCacheConfig controls the KV-backed vector cache.
type EmbeddingCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"` // 0 = no expiry
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey     string       `yaml:"api_key"`
	BaseURL    string       `yaml:"base_url"`
	TimeoutSec int          `yaml:"timeout_sec"`
	Budget     BudgetConfig `yaml:"budget"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// FingerprintConfig tunes the exact-match audit cache.
type FingerprintConfig struct {
	MaxSize       int           `yaml:"max_size"`
	TTL           time.Duration `yaml:"ttl"`
	KeepFraction  float64       `yaml:"keep_fraction"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 = lazy expiry only
}

// SemanticConfig tunes the recommendation cache.
type SemanticConfig struct {
	MaxEntries   int     `yaml:"max_entries"`
	Threshold    float32 `yaml:"threshold"`
	TopK         int     `yaml:"top_k"`
	KeepFraction float64 `yaml:"keep_fraction"`
	PinnedUsage  int64   `yaml:"pinned_usage"`
}

// RAGConfig tunes the knowledge base.
type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	DefaultLimit int `yaml:"default_limit"`
}

// PersistenceConfig selects the KV backend.
type PersistenceConfig struct {
	Driver           string   `yaml:"driver"` // none, memory, bolt, redis (default: none)
	Path             string   `yaml:"path"`   // bolt file
	Addrs            []string `yaml:"addrs"`  // redis/valkey
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Load reads configuration from config/<env>.yaml.
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads, expands, defaults and validates one YAML file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML after ${VAR:-default} expansion.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8090
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Embedding.Vectorizer == "" && len(c.Embedding.Vectorizers) > 0 {
		names := make([]string, 0, len(c.Embedding.Vectorizers))
		for name := range c.Embedding.Vectorizers {
			names = append(names, name)
		}
		slices.Sort(names)
		c.Embedding.Vectorizer = names[0]
	}

	if c.Fingerprint.MaxSize <= 0 {
		c.Fingerprint.MaxSize = 1000
	}
	if c.Fingerprint.TTL <= 0 {
		c.Fingerprint.TTL = 24 * time.Hour
	}
	if c.Fingerprint.KeepFraction == 0 {
		c.Fingerprint.KeepFraction = 0.8
	}

	if c.Semantic.MaxEntries <= 0 {
		c.Semantic.MaxEntries = 5000
	}
	if c.Semantic.Threshold == 0 {
		c.Semantic.Threshold = 0.85
	}
	if c.Semantic.TopK <= 0 {
		c.Semantic.TopK = 5
	}
	if c.Semantic.KeepFraction == 0 {
		c.Semantic.KeepFraction = 0.9
	}
	if c.Semantic.PinnedUsage <= 0 {
		c.Semantic.PinnedUsage = 100
	}

	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 500
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 50
	}
	if c.RAG.DefaultLimit <= 0 {
		c.RAG.DefaultLimit = 5
	}

	if c.Persistence.Driver == "" {
		c.Persistence.Driver = DriverNone
	}
	if c.Persistence.ReadinessTimeout <= 0 {
		c.Persistence.ReadinessTimeout = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Persistence.Driver {
	case DriverNone, DriverMemory:
	case DriverBolt:
		if c.Persistence.Path == "" {
			return errors.New("persistence.path is required for the bolt driver")
		}
	case DriverRedis:
		if len(c.Persistence.Addrs) == 0 || slices.Contains(c.Persistence.Addrs, "") {
			return errors.New("persistence.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("persistence.driver must be one of none, memory, bolt, redis, got %q", c.Persistence.Driver)
	}

	for name, p := range c.Embedding.Providers {
		switch p.Budget.Action {
		case "", "warn", "reject":
		default:
			return fmt.Errorf(
				"embedding.providers.%s.budget.action must be \"warn\" or \"reject\", got %q",
				name, p.Budget.Action,
			)
		}
	}
	if _, _, err := c.ActiveVectorizer(); err != nil {
		return err
	}

	if c.Fingerprint.KeepFraction <= 0 || c.Fingerprint.KeepFraction >= 1 {
		return fmt.Errorf("fingerprint.keep_fraction must be in (0, 1), got %v", c.Fingerprint.KeepFraction)
	}
	if c.Semantic.KeepFraction <= 0 || c.Semantic.KeepFraction >= 1 {
		return fmt.Errorf("semantic.keep_fraction must be in (0, 1), got %v", c.Semantic.KeepFraction)
	}
	if c.Semantic.Threshold <= 0 || c.Semantic.Threshold > 1 {
		return fmt.Errorf("semantic.threshold must be in (0, 1], got %v", c.Semantic.Threshold)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.Fingerprint.SweepInterval < 0 {
		return errors.New("fingerprint.sweep_interval must not be negative")
	}
	return nil
}

// ActiveVectorizer returns the selected vectorizer and its provider settings.
// With no vectorizers configured the offline hashing embedder is used.
func (c *Config) ActiveVectorizer() (VectorizerConfig, ProviderConfig, error) {
	if len(c.Embedding.Vectorizers) == 0 {
		return VectorizerConfig{Provider: ProviderHashing}, ProviderConfig{}, nil
	}
	vec, ok := c.Embedding.Vectorizers[c.Embedding.Vectorizer]
	if !ok {
		return VectorizerConfig{}, ProviderConfig{},
			fmt.Errorf("embedding.vectorizer %q is not defined", c.Embedding.Vectorizer)
	}
	if vec.Provider == ProviderHashing {
		return vec, ProviderConfig{}, nil
	}
	prov, ok := c.Embedding.Providers[vec.Provider]
	if !ok {
		return VectorizerConfig{}, ProviderConfig{},
			fmt.Errorf("embedding.vectorizers.%s.provider %q is not defined", c.Embedding.Vectorizer, vec.Provider)
	}
	if vec.Model == "" {
		return VectorizerConfig{}, ProviderConfig{},
			fmt.Errorf("embedding.vectorizers.%s.model is required", c.Embedding.Vectorizer)
	}
	return vec, prov, nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
