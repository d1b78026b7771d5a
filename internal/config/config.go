package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	OpenAIAPIKey         string  `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL        string  `mapstructure:"OPENAI_BASE_URL"`
	OpenAIDefaultModel   string  `mapstructure:"OPENAI_DEFAULT_MODEL"`
	OpenAIEmbeddingModel string  `mapstructure:"OPENAI_EMBEDDING_MODEL"`
	OpenAITimeoutSeconds int     `mapstructure:"OPENAI_TIMEOUT_SECONDS"`
	OpenAIRPS            float64 `mapstructure:"OPENAI_RPS"`

	EmbeddingDimension int `mapstructure:"EMBEDDING_DIMENSION"`
	ChunkSize          int `mapstructure:"CHUNK_SIZE"`
	ChunkOverlap       int `mapstructure:"CHUNK_OVERLAP"`
	RAGTopK            int `mapstructure:"RAG_TOP_K"`

	ICD10BaseURL         string `mapstructure:"ICD10_BASE_URL"`
	RxNormBaseURL        string `mapstructure:"RXNORM_BASE_URL"`
	LookupTimeoutSeconds int    `mapstructure:"LOOKUP_TIMEOUT_SECONDS"`

	CompletionCacheEnabled bool `mapstructure:"COMPLETION_CACHE_ENABLED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_DEFAULT_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("OPENAI_TIMEOUT_SECONDS", 60)
	v.SetDefault("OPENAI_RPS", 5)
	v.SetDefault("EMBEDDING_DIMENSION", 1536)
	v.SetDefault("CHUNK_SIZE", 800)
	v.SetDefault("CHUNK_OVERLAP", 50)
	v.SetDefault("RAG_TOP_K", 3)
	v.SetDefault("ICD10_BASE_URL", "https://clinicaltables.nlm.nih.gov/api/icd10cm/v3/search")
	v.SetDefault("RXNORM_BASE_URL", "https://rxnav.nlm.nih.gov/REST")
	v.SetDefault("LOOKUP_TIMEOUT_SECONDS", 10)
	v.SetDefault("COMPLETION_CACHE_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("OPENAI_API_KEY")
	v.BindEnv("OPENAI_BASE_URL")
	v.BindEnv("OPENAI_DEFAULT_MODEL")
	v.BindEnv("OPENAI_EMBEDDING_MODEL")
	v.BindEnv("OPENAI_TIMEOUT_SECONDS")
	v.BindEnv("OPENAI_RPS")
	v.BindEnv("EMBEDDING_DIMENSION")
	v.BindEnv("CHUNK_SIZE")
	v.BindEnv("CHUNK_OVERLAP")
	v.BindEnv("RAG_TOP_K")
	v.BindEnv("ICD10_BASE_URL")
	v.BindEnv("RXNORM_BASE_URL")
	v.BindEnv("LOOKUP_TIMEOUT_SECONDS")
	v.BindEnv("COMPLETION_CACHE_ENABLED")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is internally consistent and safe to
// run. The OpenAI key is required outside development so the server never
// starts with providers that can only fail.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" && !c.IsDev() {
		return fmt.Errorf("OPENAI_API_KEY is required when ENV=%q", c.Env)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.ChunkSize < 100 {
		return fmt.Errorf("CHUNK_SIZE must be at least 100, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be non-negative and smaller than CHUNK_SIZE, got %d", c.ChunkOverlap)
	}
	if c.RAGTopK <= 0 {
		return fmt.Errorf("RAG_TOP_K must be positive, got %d", c.RAGTopK)
	}
	if c.OpenAIRPS <= 0 {
		return fmt.Errorf("OPENAI_RPS must be positive, got %v", c.OpenAIRPS)
	}
	return nil
}
