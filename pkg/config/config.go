// Package config 提供 TOML 配置加载、APP_ 前缀环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string           `mapstructure:"environment"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	GRPC        GRPCConfig       `mapstructure:"grpc"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Logger      LoggerConfig     `mapstructure:"logger"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Simulation  SimulationConfig `mapstructure:"simulation"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // 秒
	WriteTimeout int    `mapstructure:"write_timeout"` // 秒，需覆盖最长的模拟请求
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host                 string `mapstructure:"host"`
	Port                 int    `mapstructure:"port"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

// DatabaseConfig 市场数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, sqlite；为空时不连接数据库，全部使用默认市场参数
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    int    `mapstructure:"conn_max_lifetime"` // 秒
	LogEnabled         bool   `mapstructure:"log_enabled"`
	SlowQueryThreshold int    `mapstructure:"slow_query_threshold"` // 毫秒
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`  // 秒
	ReadTimeout  int    `mapstructure:"read_timeout"`  // 秒
	WriteTimeout int    `mapstructure:"write_timeout"` // 秒
	// MarketDataTTL 市场数据缓存时间（秒）
	MarketDataTTL int `mapstructure:"market_data_ttl"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	// Topic 模拟完成事件主题
	Topic        string `mapstructure:"topic"`
	WriteTimeout int    `mapstructure:"write_timeout"` // 秒
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 模拟接口的按客户端限流
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // 每秒请求数
	Burst   int     `mapstructure:"burst"`
}

// SimulationConfig 模拟默认参数与上限
type SimulationConfig struct {
	DefaultPaths   int    `mapstructure:"default_paths"`
	MaxPaths       int    `mapstructure:"max_paths"`
	DefaultYears   int    `mapstructure:"default_years"`
	MaxYears       int    `mapstructure:"max_years"`
	Workers        int    `mapstructure:"workers"` // 0 表示 GOMAXPROCS
	BatchSize      int    `mapstructure:"batch_size"`
	DefaultSeed    uint64 `mapstructure:"default_seed"`
	SamplePaths    int    `mapstructure:"sample_paths"`
	MaxSamplePaths int    `mapstructure:"max_sample_paths"` // 单次响应中逐年明细路径数上限
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`

	TaxRate                      float64 `mapstructure:"tax_rate"`
	RevenueGrowth                float64 `mapstructure:"revenue_growth"`
	CostGrowth                   float64 `mapstructure:"cost_growth"`
	CostVolatility               float64 `mapstructure:"cost_volatility"`
	RevenueCostCorrelation       float64 `mapstructure:"revenue_cost_correlation"`
	CollateralShortfallThreshold float64 `mapstructure:"collateral_shortfall_threshold"`
	PortfolioLossThreshold       float64 `mapstructure:"portfolio_loss_threshold"`

	DefaultSectorVolatility      float64 `mapstructure:"default_sector_volatility"`
	DefaultCollateralReturn      float64 `mapstructure:"default_collateral_return"`
	DefaultCollateralVolatility  float64 `mapstructure:"default_collateral_volatility"`
	DefaultCollateralHaircut     float64 `mapstructure:"default_collateral_haircut"`
	DefaultSectorCorrelation     float64 `mapstructure:"default_sector_correlation"`
	DefaultSectorCollateralCorr  float64 `mapstructure:"default_sector_collateral_correlation"`
	DefaultCollateralCorrelation float64 `mapstructure:"default_collateral_correlation"`
}

// Load 读取 TOML 配置文件（不存在时只用默认值），并应用 APP_ 前缀的环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}
	s := c.Simulation
	if s.DefaultPaths <= 0 || s.MaxPaths < s.DefaultPaths {
		return fmt.Errorf("invalid simulation paths: default=%d max=%d", s.DefaultPaths, s.MaxPaths)
	}
	if s.DefaultYears <= 0 || s.MaxYears < s.DefaultYears {
		return fmt.Errorf("invalid simulation years: default=%d max=%d", s.DefaultYears, s.MaxYears)
	}
	if s.SamplePaths < 0 || s.MaxSamplePaths < s.SamplePaths {
		return fmt.Errorf("invalid simulation sample paths: default=%d max=%d", s.SamplePaths, s.MaxSamplePaths)
	}
	if s.TaxRate < 0 || s.TaxRate >= 1 {
		return fmt.Errorf("invalid simulation tax_rate: %v", s.TaxRate)
	}
	if s.DefaultCollateralHaircut < 0 || s.DefaultCollateralHaircut >= 1 {
		return fmt.Errorf("invalid default_collateral_haircut: %v", s.DefaultCollateralHaircut)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "creditrisk")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 120)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.max_concurrent_streams", 1000)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("redis.market_data_ttl", 300)

	v.SetDefault("kafka.topic", "creditrisk.simulation.completed")
	v.SetDefault("kafka.write_timeout", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/creditrisk.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rate", 2.0)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("simulation.default_paths", 10000)
	v.SetDefault("simulation.max_paths", 200000)
	v.SetDefault("simulation.default_years", 5)
	v.SetDefault("simulation.max_years", 30)
	v.SetDefault("simulation.workers", 0)
	v.SetDefault("simulation.batch_size", 256)
	v.SetDefault("simulation.default_seed", 20240101)
	v.SetDefault("simulation.sample_paths", 5)
	v.SetDefault("simulation.max_sample_paths", 50)
	v.SetDefault("simulation.timeout_seconds", 90)
	v.SetDefault("simulation.tax_rate", 0.25)
	v.SetDefault("simulation.revenue_growth", 0.02)
	v.SetDefault("simulation.cost_growth", 0.02)
	v.SetDefault("simulation.cost_volatility", 0.05)
	v.SetDefault("simulation.revenue_cost_correlation", 0.6)
	v.SetDefault("simulation.collateral_shortfall_threshold", 0.1)
	v.SetDefault("simulation.portfolio_loss_threshold", 0.05)
	v.SetDefault("simulation.default_sector_volatility", 0.2)
	v.SetDefault("simulation.default_collateral_return", 0.02)
	v.SetDefault("simulation.default_collateral_volatility", 0.1)
	v.SetDefault("simulation.default_collateral_haircut", 0.3)
	v.SetDefault("simulation.default_sector_correlation", 0.3)
	v.SetDefault("simulation.default_sector_collateral_correlation", 0.2)
	v.SetDefault("simulation.default_collateral_correlation", 0.5)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
