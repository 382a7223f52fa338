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
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Ollama        OllamaConfig        `mapstructure:"ollama"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Prompt        PromptConfig        `mapstructure:"prompt"`
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
// ServerURL 为空时不启用 Tika 提取器，office 类文档将被视为不支持的格式。
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

// OllamaConfig 存储 Ollama 后端相关的配置。
// 嵌入与生成共用同一个 Ollama 实例，具体模型通过 ModelRegistry 动态选择。
type OllamaConfig struct {
	BaseURL                string           `mapstructure:"base_url"`
	DefaultGenerateModel   string           `mapstructure:"default_generate_model"`
	DefaultEmbedModel      string           `mapstructure:"default_embed_model"`
	EmbedDimensions        int              `mapstructure:"embed_dimensions"`
	EmbedBatchSize         int              `mapstructure:"embed_batch_size"`
	EmbedTimeoutSeconds    int              `mapstructure:"embed_timeout_seconds"`
	EmbedRetryLimit        int              `mapstructure:"embed_retry_limit"`
	GenerateTimeoutSeconds int              `mapstructure:"generate_timeout_seconds"`
	ListTimeoutSeconds     int              `mapstructure:"list_timeout_seconds"`
	Generation             GenerationConfig `mapstructure:"generation"`
}

// GenerationConfig 配置生成相关参数（可选，零值表示使用后端默认）。
type GenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	NumCtx      int     `mapstructure:"num_ctx"`
}

// ChunkingConfig 存储文本分块相关的配置。
// Overlap >= MaxSize 属于非法配置，会在 chunker 构造时被拒绝。
type ChunkingConfig struct {
	MaxSize int `mapstructure:"max_size"`
	Overlap int `mapstructure:"overlap"`
}

// RetrievalConfig 存储检索相关的配置。
type RetrievalConfig struct {
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
}

// IngestConfig 存储文档摄取相关的配置。
type IngestConfig struct {
	Workers     int      `mapstructure:"workers"`
	Extensions  []string `mapstructure:"extensions"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
	SeedDir     string   `mapstructure:"seed_dir"`
}

// PromptConfig 配置系统提示与无结果兜底文案（可选）。
type PromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// setDefaults 设置缺省值，数值与原系统的经验配置保持一致。
func setDefaults() {
	viper.SetDefault("chunking.max_size", 1000)
	viper.SetDefault("chunking.overlap", 200)
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.min_score", 0.3)
	viper.SetDefault("ollama.base_url", "http://localhost:11434")
	viper.SetDefault("ollama.default_generate_model", "llama3.1")
	viper.SetDefault("ollama.default_embed_model", "nomic-embed-text")
	viper.SetDefault("ollama.embed_dimensions", 768)
	viper.SetDefault("ollama.embed_batch_size", 10)
	viper.SetDefault("ollama.embed_timeout_seconds", 30)
	viper.SetDefault("ollama.embed_retry_limit", 3)
	viper.SetDefault("ollama.generate_timeout_seconds", 120)
	viper.SetDefault("ollama.list_timeout_seconds", 5)
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.max_file_size", 50*1024*1024)
	viper.SetDefault("ingest.extensions", []string{"txt", "md", "rst", "csv", "json", "xml", "html", "pdf"})
}
