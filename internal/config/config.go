package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/irfndi/demandcast/internal/models"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Forecast    ForecastConfig `mapstructure:"forecast"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Schema   string `mapstructure:"schema"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
	// ConnectTimeout bounds the startup connectivity check, e.g. "5s".
	ConnectTimeout string `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ForecastConfig carries the engine defaults applied when a run request omits
// the corresponding option.
type ForecastConfig struct {
	DefaultGranularity string `mapstructure:"default_granularity"`
	DefaultHorizonDays int    `mapstructure:"default_horizon_days"`
	// TrackingSignalThreshold is the +/- band outside which a run's tracking
	// signal is flagged as a control deviation.
	TrackingSignalThreshold float64 `mapstructure:"tracking_signal_threshold"`
	// ValidationMinPoints is the prepared series length above which a holdout
	// backtest computes summary metrics.
	ValidationMinPoints int `mapstructure:"validation_min_points"`
	// ValidationMaxHoldout caps the holdout size used for backtesting.
	ValidationMaxHoldout int    `mapstructure:"validation_max_holdout"`
	CacheTTL             string `mapstructure:"cache_ttl"`
	GapFill              string `mapstructure:"gap_fill"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if g := models.Granularity(config.Forecast.DefaultGranularity); !g.Valid() {
		return nil, fmt.Errorf("invalid default granularity %q", config.Forecast.DefaultGranularity)
	}
	if config.Forecast.DefaultHorizonDays <= 0 {
		return nil, fmt.Errorf("default horizon days must be positive, got %d", config.Forecast.DefaultHorizonDays)
	}
	if config.Forecast.TrackingSignalThreshold <= 0 {
		return nil, fmt.Errorf("tracking signal threshold must be positive, got %v", config.Forecast.TrackingSignalThreshold)
	}

	return &config, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "demandcast")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.schema", "raw_tenant_data")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 2)
	viper.SetDefault("database.connect_timeout", "5s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Forecast engine
	viper.SetDefault("forecast.default_granularity", "daily")
	viper.SetDefault("forecast.default_horizon_days", 90)
	viper.SetDefault("forecast.tracking_signal_threshold", 4.0)
	viper.SetDefault("forecast.validation_min_points", 30)
	viper.SetDefault("forecast.validation_max_holdout", 30)
	viper.SetDefault("forecast.cache_ttl", "15m")
	viper.SetDefault("forecast.gap_fill", "zero")
}
