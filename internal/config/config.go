// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 LEARNPILOT_LLM_API_KEY。
const EnvPrefix = "LEARNPILOT"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	WebSearch     WebSearchConfig     `mapstructure:"websearch"`
	YouTube       YouTubeConfig       `mapstructure:"youtube"`
	PDFQA         PDFQAConfig         `mapstructure:"pdfqa"`
	Practice      PracticeConfig      `mapstructure:"practice"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
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
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
	// AllowOpenSessions 允许不带密码签发只含 email/name 的会话（替代外部 OAuth 提供方）。
	AllowOpenSessions bool `mapstructure:"allow_open_sessions"`
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
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// JSONModel 用于结构化输出（出题、评分、分类），为空时使用 Model。
	JSONModel      string              `mapstructure:"json_model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// WebSearchConfig 存储联网检索（Perplexity）相关配置。
type WebSearchConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Recency           string  `mapstructure:"recency"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// YouTubeConfig 存储视频推荐检索相关配置。
type YouTubeConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Endpoint        string `mapstructure:"endpoint"`
	MaxResults      int64  `mapstructure:"max_results"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
}

// PDFQAConfig 存储 PDF 问答相关配置。
// Mode 为 "remote" 时转发到外部 RAG 服务，为 "local" 时在本进程内完成。
type PDFQAConfig struct {
	Mode           string `mapstructure:"mode"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	InlineLimit    int    `mapstructure:"inline_limit"`
}

// PracticeConfig 配置自适应难度阈值。
type PracticeConfig struct {
	ThresholdOK     float64 `mapstructure:"threshold_ok"`
	ThresholdHarder float64 `mapstructure:"threshold_harder"`
}

// setDefaults 为可选项设置默认值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.group_id", "learnpilot-consumer")
	v.SetDefault("elasticsearch.index_name", "learning_sources")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("websearch.base_url", "https://api.perplexity.ai")
	v.SetDefault("websearch.model", "sonar-pro")
	v.SetDefault("websearch.recency", "month")
	v.SetDefault("websearch.timeout_seconds", 90)
	v.SetDefault("websearch.requests_per_second", 1.0)
	v.SetDefault("websearch.burst", 2)
	v.SetDefault("youtube.max_results", 5)
	v.SetDefault("youtube.cache_ttl_minutes", 30)
	v.SetDefault("pdfqa.mode", "local")
	v.SetDefault("pdfqa.timeout_seconds", 120)
	v.SetDefault("pdfqa.inline_limit", 10000)
	v.SetDefault("practice.threshold_ok", 0.7)
	v.SetDefault("practice.threshold_harder", 0.9)

	// 凭据类配置没有默认值，但需要注册键名，AutomaticEnv 才能在 Unmarshal 时生效。
	for _, key := range []string{
		"database.mysql.dsn", "database.redis.addr", "database.redis.password",
		"jwt.secret", "minio.access_key_id", "minio.secret_access_key",
		"elasticsearch.password", "embedding.api_key", "llm.api_key",
		"websearch.api_key", "youtube.api_key", "pdfqa.base_url",
	} {
		v.SetDefault(key, "")
	}
}

// Load 从指定路径读取 YAML 文件并返回解析后的配置，环境变量优先于文件。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
