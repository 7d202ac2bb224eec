package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	PDF        PDFConfig        `yaml:"pdf" mapstructure:"pdf"`
	Parser     ParserConfig     `yaml:"parser" mapstructure:"parser"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver "none" keeps job
// state in memory only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres none"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// LLMConfig selects and tunes the text-generation service used by the
// extractor, auditor and narrative collaborators.
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic gemini openai"`
	Model       string        `yaml:"model" mapstructure:"model"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"` // requests/sec, 0 = unlimited
	Burst       int           `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig is the file/env form of resilience.RetryConfig.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
}

// CircuitConfig is the file/env form of resilience.CircuitBreakerConfig.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs" validate:"gte=0"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	CacheSystem bool   `yaml:"cache_system" mapstructure:"cache_system"`
}

// GeminiConfig holds Google Gemini settings for text and vision.
type GeminiConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model"`
}

// OpenAIConfig holds settings for OpenAI or any compatible endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// PDFConfig locates the poppler tools.
type PDFConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PdfInfoPath   string `yaml:"pdfinfo_path" mapstructure:"pdfinfo_path"`
	PdfToPPMPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	CropDPI       int    `yaml:"crop_dpi" mapstructure:"crop_dpi" validate:"gte=0,lte=600"`
}

// ParserConfig selects the document-to-markdown parser.
type ParserConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider" validate:"oneof=poppler mistral"`
	MistralKey   string `yaml:"mistral_api_key" mapstructure:"mistral_api_key" validate:"required_if=Provider mistral"`
	MistralModel string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// AuditConfig tunes the verification and recovery run.
type AuditConfig struct {
	Metrics           []string `yaml:"metrics" mapstructure:"metrics" validate:"min=1,dive,required"`
	MetricConcurrency int      `yaml:"metric_concurrency" mapstructure:"metric_concurrency" validate:"min=1,max=32"`
	ContextMaxChars   int      `yaml:"context_max_chars" mapstructure:"context_max_chars" validate:"min=1000"`
	FallbackMaxChars  int      `yaml:"fallback_max_chars" mapstructure:"fallback_max_chars" validate:"min=1000"`
	SentimentMaxChars int      `yaml:"sentiment_max_chars" mapstructure:"sentiment_max_chars" validate:"min=1000"`
	ReportDir         string   `yaml:"report_dir" mapstructure:"report_dir"`
	VisualCheck       bool     `yaml:"visual_check" mapstructure:"visual_check"`
	ResolveProvenance bool     `yaml:"resolve_provenance" mapstructure:"resolve_provenance"`
	ValidateReport    bool     `yaml:"validate_report" mapstructure:"validate_report"`
	RunTimeoutMins    int      `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins" validate:"gte=0"`
	BatchConcurrency  int      `yaml:"batch_concurrency" mapstructure:"batch_concurrency" validate:"min=1"`
}

// JobsConfig configures the background job manager.
type JobsConfig struct {
	Workers        int    `yaml:"workers" mapstructure:"workers" validate:"min=1,max=64"`
	RetentionHours int    `yaml:"retention_hours" mapstructure:"retention_hours" validate:"gte=0"` // 0 keeps jobs forever
	UploadDir      string `yaml:"upload_dir" mapstructure:"upload_dir"`
	DLQMaxRetries  int    `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries" validate:"gte=0"`
}

// ServerConfig configures the HTTP polling API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB  int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb" validate:"min=1"`
	ShutdownSecs int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs" validate:"min=1"`
}

// MonitoringConfig configures the background alert checker. An empty
// WebhookURL disables alert delivery.
type MonitoringConfig struct {
	Enabled                   bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold      float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	InterventionRateThreshold float64 `yaml:"intervention_rate_threshold" mapstructure:"intervention_rate_threshold" validate:"gte=0,lte=1"`
	DLQDepthThreshold         int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold" validate:"gte=0"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours       int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=0"`
}

// PricingConfig holds per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing is the price of one model.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
	File   string `yaml:"file" mapstructure:"file"`
}

// DefaultMetrics are the figures extracted when no list is configured.
var DefaultMetrics = []string{"Revenue", "Net Income", "EBITDA", "Operating Cash Flow", "EPS"}

// Load reads .env, config.yaml and GVD_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".gvd"))
	}

	v.SetEnvPrefix("GVD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys also come from their conventional variables.
	bindings := map[string][]string{
		"anthropic.key":          {"GVD_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"},
		"gemini.key":             {"GVD_GEMINI_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"openai.key":             {"GVD_OPENAI_KEY", "OPENAI_API_KEY"},
		"parser.mistral_api_key": {"GVD_PARSER_MISTRAL_API_KEY", "MISTRAL_API_KEY"},
		"store.database_url":     {"GVD_STORE_DATABASE_URL", "DATABASE_URL"},
		"log.level":              {"GVD_LOG_LEVEL", "LOG_LEVEL"},
		"log.format":             {"GVD_LOG_FORMAT", "LOG_FORMAT"},
		"log.file":               {"GVD_LOG_FILE", "LOG_FILE"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "gvd.db")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.rate_limit", 2.0)
	v.SetDefault("llm.burst", 4)
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("llm.retry.max_attempts", 3)
	v.SetDefault("llm.retry.initial_backoff_ms", 500)
	v.SetDefault("llm.retry.max_backoff_ms", 30000)
	v.SetDefault("llm.circuit.failure_threshold", 5)
	v.SetDefault("llm.circuit.reset_timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.cache_system", true)
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.vision_model", "gemini-2.0-flash")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("pdf.pdftotext_path", "pdftotext")
	v.SetDefault("pdf.pdfinfo_path", "pdfinfo")
	v.SetDefault("pdf.pdftoppm_path", "pdftoppm")
	v.SetDefault("pdf.crop_dpi", 150)
	v.SetDefault("parser.provider", "poppler")
	v.SetDefault("parser.mistral_model", "mistral-ocr-latest")
	v.SetDefault("audit.metrics", DefaultMetrics)
	v.SetDefault("audit.metric_concurrency", 4)
	v.SetDefault("audit.context_max_chars", 25000)
	v.SetDefault("audit.fallback_max_chars", 50000)
	v.SetDefault("audit.sentiment_max_chars", 10000)
	v.SetDefault("audit.report_dir", "reports")
	v.SetDefault("audit.visual_check", true)
	v.SetDefault("audit.resolve_provenance", true)
	v.SetDefault("audit.validate_report", true)
	v.SetDefault("audit.run_timeout_mins", 30)
	v.SetDefault("audit.batch_concurrency", 2)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.retention_hours", 0)
	v.SetDefault("jobs.upload_dir", "uploads")
	v.SetDefault("jobs.dlq_max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.shutdown_secs", 30)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.intervention_rate_threshold", 0.5)
	v.SetDefault("monitoring.dlq_depth_threshold", 20)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("pricing.models", map[string]any{
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.0, "output": 15.0},
		"gemini-2.0-flash":           map[string]any{"input": 0.10, "output": 0.40},
		"gpt-4o":                     map[string]any{"input": 2.50, "output": 10.0},
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and provider key requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if c.ProviderKey() == "" {
		return eris.Errorf("config: llm provider %q requires an API key", c.LLM.Provider)
	}
	return nil
}

// ProviderKey returns the API key for the configured LLM provider.
func (c *Config) ProviderKey() string {
	switch c.LLM.Provider {
	case "anthropic":
		return c.Anthropic.Key
	case "gemini":
		return c.Gemini.Key
	case "openai":
		return c.OpenAI.Key
	default:
		return ""
	}
}

// ProviderModel returns llm.model when set, else the provider default.
func (c *Config) ProviderModel() string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	switch c.LLM.Provider {
	case "gemini":
		return c.Gemini.Model
	case "openai":
		return c.OpenAI.Model
	default:
		return c.Anthropic.Model
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return eris.Wrap(err, "config: create log dir")
		}
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
