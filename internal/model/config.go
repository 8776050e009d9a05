package model

import "time"

// Config is the complete runtime configuration. Defaults come from
// DefaultConfig; viper layers the config file, env and flags on top.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Domains      []DomainConfig     `yaml:"domains" mapstructure:"domains"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	PubMed       PubMedConfig       `yaml:"pubmed" mapstructure:"pubmed"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
}

// StoreConfig configures the durable claim record store
type StoreConfig struct {
	Path         string        `yaml:"path" mapstructure:"path"`
	LeaseTTL     time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`         // Expiry of a run's lease
	LeaseWait    time.Duration `yaml:"lease_wait" mapstructure:"lease_wait"`       // Bounded wait before ErrConcurrentUpdate
	LeaseBackoff time.Duration `yaml:"lease_backoff" mapstructure:"lease_backoff"` // Initial retry delay, doubled per attempt
}

// ScoringConfig holds the identity and contradiction thresholds. Tier
// boundaries are fixed and live in the score package.
type ScoringConfig struct {
	SimilarityThreshold  float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaterialityThreshold float64 `yaml:"materiality_threshold" mapstructure:"materiality_threshold"`
}

// DomainConfig is one domain's keyword dictionary and PubMed query
type DomainConfig struct {
	Name     Domain   `yaml:"name" mapstructure:"name"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
	Query    string   `yaml:"query,omitempty" mapstructure:"query"`
}

// CacheConfig configures memoization of tagging and extraction results
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// LLMConfig configures the claim extraction provider
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, ollama, gemini
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"-" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"` // On 429 and 5xx
	HTTPProxy   string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy     string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// PubMedConfig configures the E-utilities client
type PubMedConfig struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string        `yaml:"-" mapstructure:"api_key"`
	MaxResults int           `yaml:"max_results" mapstructure:"max_results"`
	RelDate    int           `yaml:"reldate" mapstructure:"reldate"` // Days back; 0 disables the window
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPProxy  string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"` // On 429 and 5xx
}

// ConcurrencyConfig configures the worker pools
type ConcurrencyConfig struct {
	Workers           int `yaml:"workers" mapstructure:"workers"`                       // Evidence file loading
	ExtractionWorkers int `yaml:"extraction_workers" mapstructure:"extraction_workers"` // Concurrent LLM calls
}

// RateLimitingConfig bounds outbound request rates
type RateLimitingConfig struct {
	NCBIRequestsPerSecond float64 `yaml:"ncbi_requests_per_second" mapstructure:"ncbi_requests_per_second"`
	LLMRequestsPerMinute  float64 `yaml:"llm_requests_per_minute" mapstructure:"llm_requests_per_minute"`
	BurstSize             int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// OutputConfig configures the generated ledger views
type OutputConfig struct {
	LedgerMarkdown string `yaml:"ledger_markdown" mapstructure:"ledger_markdown"`
	LedgerJSON     string `yaml:"ledger_json" mapstructure:"ledger_json"`
	Verbose        bool   `yaml:"verbose" mapstructure:"verbose"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:         "convergence.db",
			LeaseTTL:     15 * time.Minute,
			LeaseWait:    30 * time.Second,
			LeaseBackoff: 500 * time.Millisecond,
		},
		Scoring: ScoringConfig{
			SimilarityThreshold:  0.5,
			MaterialityThreshold: 2.0,
		},
		Domains: DefaultDomains(),
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".convergence/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   30 * 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:    "",
			Timeout:     60,
			MaxTokens:   4096,
			Temperature: 0.1,
			MaxRetries:  3,
		},
		PubMed: PubMedConfig{
			BaseURL:    "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			MaxResults: 20,
			RelDate:    30,
			Timeout:    30 * time.Second,
			UserAgent:  "convergence/0.1 (+https://github.com/ppiankov/convergence)",
			MaxRetries: 3,
		},
		Concurrency: ConcurrencyConfig{
			Workers:           4,
			ExtractionWorkers: 2,
		},
		RateLimiting: RateLimitingConfig{
			NCBIRequestsPerSecond: 3,
			LLMRequestsPerMinute:  10,
			BurstSize:             1,
		},
		Output: OutputConfig{
			LedgerMarkdown: "hypothesis_ledger.md",
			LedgerJSON:     "hypothesis_ledger.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultDomains returns the fixed keyword dictionaries in declaration order
func DefaultDomains() []DomainConfig {
	return []DomainConfig{
		{
			Name: DomainEpigenetic,
			Keywords: []string{
				"epigenetic", "methylation", "histone", "chromatin", "reprogramming",
				"epigenetic clock", "acetylation", "yamanaka",
			},
			Query: `("epigenetic clock" OR "DNA methylation" OR "partial reprogramming") AND aging`,
		},
		{
			Name: DomainSenescence,
			Keywords: []string{
				"senescen", "senolytic", "senomorphic", "sasp", "p16ink4a", "p21",
				"inflammaging",
			},
			Query: `(senescence OR senolytic OR SASP) AND aging`,
		},
		{
			Name: DomainMitochondrial,
			Keywords: []string{
				"mitochondri", "nad+", "mitophagy", "oxidative phosphorylation",
				"reactive oxygen species", "sirtuin", "proteostasis",
			},
			Query: `(mitochondrial dysfunction OR NAD+ OR mitophagy) AND aging`,
		},
		{
			Name: DomainNutrientSensing,
			Keywords: []string{
				"mtor", "ampk", "insulin", "igf-1", "rapamycin", "caloric restriction",
				"dietary restriction", "metformin", "nutrient sensing",
			},
			Query: `(mTOR OR AMPK OR "caloric restriction" OR rapamycin) AND aging`,
		},
		{
			Name: DomainStemCellECM,
			Keywords: []string{
				"stem cell", "extracellular matrix", "collagen", "stem cell niche",
				"regenerat", "fibrosis", "clonal hematopoiesis",
			},
			Query: `("stem cell exhaustion" OR "extracellular matrix") AND aging`,
		},
		{
			Name: DomainComparative,
			Keywords: []string{
				"naked mole-rat", "bowhead", "long-lived species", "comparative biology",
				"maximum lifespan", "rockfish", "hydra vulgaris",
			},
			Query: `("naked mole-rat" OR "long-lived species" OR "comparative biology") AND longevity`,
		},
	}
}
