// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/quotefill/internal/extract"
	"github.com/sells-group/quotefill/internal/retrieval"
	"github.com/sells-group/quotefill/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig            `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig        `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig             `yaml:"jina" mapstructure:"jina"`
	Extraction extract.EngineConfig   `yaml:"extraction" mapstructure:"extraction"`
	Retrieval  retrieval.Config       `yaml:"retrieval" mapstructure:"retrieval"`
	Feedback   extract.FeedbackConfig `yaml:"feedback" mapstructure:"feedback"`
	Curation   extract.CurationConfig `yaml:"curation" mapstructure:"curation"`
	Schemas    SchemaConfig           `yaml:"schemas" mapstructure:"schemas"`
	Server     ServerConfig           `yaml:"server" mapstructure:"server"`
	Log        LogConfig              `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the example-base backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `yaml:"path" mapstructure:"path"`
	// DatabaseURL is the postgres connection string.
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds the model API key and call settings.
type AnthropicConfig struct {
	Key                  string `yaml:"key" mapstructure:"key"`
	extract.ClientConfig `yaml:",inline" mapstructure:",squash"`
}

// JinaConfig holds the embeddings API settings. An empty key disables
// similarity retrieval; the store's quality ranking still applies.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SchemaConfig locates the template variant schema files.
type SchemaConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QUOTEFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "quotefill.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schemas.dir", "schemas")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_second", 2)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("anthropic.retry_attempts", 3)
	v.SetDefault("anthropic.request_timeout", "60s")
	v.SetDefault("anthropic.batch_poll_timeout", "30m")
	v.SetDefault("jina.model", "jina-embeddings-v3")
	v.SetDefault("extraction.concurrency", 4)
	v.SetDefault("extraction.partition.max_fields", 40)
	v.SetDefault("extraction.verify.enabled", true)
	v.SetDefault("extraction.verify.flip_unsupported_yes", true)
	v.SetDefault("extraction.retrieval_context_bytes", 2048)
	v.SetDefault("extraction.use_batch_api", false)
	v.SetDefault("extraction.batch_api_min_batches", 2)
	v.SetDefault("retrieval.k", 3)
	v.SetDefault("retrieval.min_similarity", 0.3)
	v.SetDefault("retrieval.sim_weight", 0.7)
	v.SetDefault("retrieval.quality_weight", 0.3)
	v.SetDefault("feedback.auto_learn", true)
	v.SetDefault("feedback.min_auto_learn_confidence", 0.75)
	v.SetDefault("curation.min_usage", 5)
	v.SetDefault("curation.min_success_rate", 0.4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
