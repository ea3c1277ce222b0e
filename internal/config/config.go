package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	JSON     bool   `mapstructure:"json"`
	SQLLevel string `mapstructure:"sql_level"` // silent / error / warn / info
}

// DatabaseConfig 账本存储配置，driver 支持 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	WalletNotification string `mapstructure:"wallet_notification"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// ServiceKey 后端服务调用 /rpc 时携带的 Bearer 密钥，为空时 /rpc 全部拒绝
	ServiceKey string `mapstructure:"service_key"`
}

type BusinessConfig struct {
	MaxRetryCount         int `mapstructure:"max_retry_count"`
	ActiveWindowDays      int `mapstructure:"active_window_days"`
	HibernatingWindowDays int `mapstructure:"hibernating_window_days"`
	LockTTLSeconds        int `mapstructure:"lock_ttl_seconds"`
	ReconcileIntervalSec  int `mapstructure:"reconcile_interval_seconds"`
	// StrictFeeCategory 为 true 时，查询用户分类失败直接拒绝扣费；否则按原价收取
	StrictFeeCategory bool `mapstructure:"strict_fee_category"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.sql_level", "warn")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "renaissance.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("kafka.topic.wallet_notification", "wallet_notification")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.active_window_days", 30)
	v.SetDefault("business.hibernating_window_days", 90)
	v.SetDefault("business.lock_ttl_seconds", 30)
	v.SetDefault("business.reconcile_interval_seconds", 300)
}

// Load 读取配置文件，环境变量（RENAISSANCE_ 前缀）优先于文件
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RENAISSANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if cfg.Business.HibernatingWindowDays < cfg.Business.ActiveWindowDays {
		return nil, fmt.Errorf("hibernating_window_days(%d) 不能小于 active_window_days(%d)",
			cfg.Business.HibernatingWindowDays, cfg.Business.ActiveWindowDays)
	}
	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}
