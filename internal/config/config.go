package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Rules  RulesConfig  `yaml:"rules" mapstructure:"rules"`
	Feed   FeedConfig   `yaml:"feed" mapstructure:"feed"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RulesConfig configures staging, package selection and the rebuild schedule.
type RulesConfig struct {
	CurrentWindowYears int     `yaml:"current_window_years" mapstructure:"current_window_years"`
	MinConfidence      float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	ReleaseMonth       int     `yaml:"release_month" mapstructure:"release_month"`
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// FeedConfig configures where extracted line items come from.
type FeedConfig struct {
	Sources     []string `yaml:"sources" mapstructure:"sources"`
	Charset     string   `yaml:"charset" mapstructure:"charset"`
	UserAgent   string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int      `yaml:"max_retries" mapstructure:"max_retries"`
	TempDir     string   `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("TAXRULES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "taxrules.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("rules.current_window_years", 2)
	v.SetDefault("rules.min_confidence", 0.0)
	v.SetDefault("rules.release_month", 10)
	v.SetDefault("rules.concurrency", 4)
	v.SetDefault("feed.sources", []string{})
	v.SetDefault("feed.charset", "utf-8")
	v.SetDefault("feed.user_agent", "taxrules/1.0")
	v.SetDefault("feed.timeout_secs", 60)
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	// An env var arrives as one string; accept spaces as well as commas.
	if len(cfg.Feed.Sources) == 1 && strings.ContainsAny(cfg.Feed.Sources[0], " ,") {
		cfg.Feed.Sources = strings.FieldsFunc(cfg.Feed.Sources[0], func(r rune) bool {
			return r == ' ' || r == ','
		})
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "store"
// (any command touching the database), "sync" (store plus feed sources) and
// "serve" (store plus server).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "sync", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	if c.Rules.CurrentWindowYears < 0 {
		errs = append(errs, "rules.current_window_years must be >= 0")
	}
	if c.Rules.MinConfidence < 0 || c.Rules.MinConfidence > 1 {
		errs = append(errs, "rules.min_confidence must be between 0 and 1")
	}
	if c.Rules.ReleaseMonth < 1 || c.Rules.ReleaseMonth > 12 {
		errs = append(errs, "rules.release_month must be between 1 and 12")
	}
	if c.Rules.Concurrency < 1 || c.Rules.Concurrency > 32 {
		errs = append(errs, "rules.concurrency must be between 1 and 32")
	}

	if c.Feed.MaxRetries < 0 {
		errs = append(errs, "feed.max_retries must be >= 0")
	}
	if c.Feed.TimeoutSecs < 0 {
		errs = append(errs, "feed.timeout_secs must be >= 0")
	}

	switch mode {
	case "sync":
		if len(c.Feed.Sources) == 0 {
			errs = append(errs, "feed.sources is required")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
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
