package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "ROUTER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Router   RouterConfig   `mapstructure:"router"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"             validate:"gte=1,lte=65535"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"   validate:"gt=0"`
	APIKey          string        `mapstructure:"api_key"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type RouterConfig struct {
	DefaultProvider    string  `mapstructure:"default_provider"    validate:"oneof=openai anthropic gemini"`
	DefaultTemperature float64 `mapstructure:"default_temperature" validate:"gte=0,lte=2"`
	HighCostThreshold  float64 `mapstructure:"high_cost_threshold" validate:"gte=0"`
	MaxPromptChars     int     `mapstructure:"max_prompt_chars"    validate:"gt=0"`
	// CharsPerToken drives usage estimates when a provider omits token counts.
	CharsPerToken int `mapstructure:"chars_per_token" validate:"gt=0"`
}

type ExecutorConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"       validate:"gte=0,lte=10"`
	Timeout          time.Duration `mapstructure:"timeout"           validate:"gt=0"`
	CostLimit        float64       `mapstructure:"cost_limit"        validate:"gte=0"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gt=0"`
	Cooldown         time.Duration `mapstructure:"cooldown"          validate:"gt=0"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"   validate:"gt=0"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"       validate:"gtefield=InitialBackoff"`
	Jitter           time.Duration `mapstructure:"jitter"            validate:"gte=0"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"        validate:"oneof=sqlite postgres memory"`
	DSN         string `mapstructure:"dsn"           validate:"required_if=Driver postgres"`
	AsyncWrites bool   `mapstructure:"async_writes"`
	MaxConns    int32  `mapstructure:"max_conns"     validate:"gte=0"`
}

type SecretsConfig struct {
	Source string `mapstructure:"source" validate:"oneof=env ssm"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.host", "0.0.0.0")
	vip.SetDefault("server.port", 8080)
	vip.SetDefault("server.max_body_bytes", 1<<20)
	vip.SetDefault("server.api_key", "")
	vip.SetDefault("server.cors_origins", []string{"*"})
	vip.SetDefault("server.read_timeout", "15s")
	vip.SetDefault("server.write_timeout", "150s")
	vip.SetDefault("server.shutdown_timeout", "20s")

	vip.SetDefault("log.level", "info")
	vip.SetDefault("log.format", "text")

	vip.SetDefault("router.default_provider", "anthropic")
	vip.SetDefault("router.default_temperature", 0.7)
	vip.SetDefault("router.high_cost_threshold", 0.05)
	vip.SetDefault("router.max_prompt_chars", 100_000)
	vip.SetDefault("router.chars_per_token", 4)

	vip.SetDefault("executor.max_retries", 3)
	vip.SetDefault("executor.timeout", "30s")
	vip.SetDefault("executor.cost_limit", 0.10)
	vip.SetDefault("executor.failure_threshold", 5)
	vip.SetDefault("executor.cooldown", "30s")
	vip.SetDefault("executor.initial_backoff", "500ms")
	vip.SetDefault("executor.max_backoff", "8s")
	vip.SetDefault("executor.jitter", "100ms")

	vip.SetDefault("storage.driver", "sqlite")
	vip.SetDefault("storage.dsn", "")
	vip.SetDefault("storage.async_writes", true)
	vip.SetDefault("storage.max_conns", 0)

	vip.SetDefault("secrets.source", "env")
	vip.SetDefault("secrets.prefix", "")
	vip.SetDefault("secrets.region", "")

	vip.SetDefault("catalog.path", "")
}

// Load reads path (or ./config.yaml, ./configs/config.yaml when empty), then
// applies ROUTER_* environment overrides such as ROUTER_EXECUTOR_MAX_RETRIES.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("config")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(envPrefix)
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(vip)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Secrets.Source = strings.ToLower(strings.TrimSpace(cfg.Secrets.Source))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
