// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Assistant AssistantConfig `mapstructure:"assistant"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// QuotesConfig 存储行情数据源相关的配置。
type QuotesConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
}

// ProviderConfig 存储大语言模型服务商相关的配置。
// Backend 取值 "anthropic" 或 "openai"，在构造阶段决定具体实现。
type ProviderConfig struct {
	Backend       string   `mapstructure:"backend"`
	APIKey        string   `mapstructure:"api_key"`
	BaseURL       string   `mapstructure:"base_url"`
	Model         string   `mapstructure:"model"`
	AllowedModels []string `mapstructure:"allowed_models"`
	MaxTokens     int      `mapstructure:"max_tokens"`
	Temperature   float64  `mapstructure:"temperature"`
}

// AssistantConfig 存储对话助手的运行参数。
type AssistantConfig struct {
	BaseCurrency    string `mapstructure:"base_currency"`
	MaxTurns        int    `mapstructure:"max_turns"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
	CacheMaxEntries int    `mapstructure:"cache_max_entries"`
	MessagesPerHour int    `mapstructure:"messages_per_hour"`
	MessagesPerDay  int    `mapstructure:"messages_per_day"`
	MaxToolRounds   int    `mapstructure:"max_tool_rounds"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
