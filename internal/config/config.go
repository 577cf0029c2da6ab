// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
)

const (
	DefaultMaxRetries     = 10
	DefaultLLMMaxTokens   = 8000
	DefaultLLMTemperature = 0.5
	DefaultConfigFile     = "director.yaml"
)

// 支持的持久化后端
const (
	StorageBackendNone = "none"
	StorageBackendDir  = "dir"
	StorageBackendS3   = "s3"
)

// LLMConfig LLM相关配置
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// StorageConfig 持久化存储配置
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	Region   string `yaml:"region"`
}

// MediaConfig 媒体生成后端配置
type MediaConfig struct {
	Mock         bool    `yaml:"mock"`
	Concurrency  int     `yaml:"concurrency"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
	OpenAIAPIKey string  `yaml:"openai_api_key"`
	ImageModel   string  `yaml:"image_model"`
	SpeechModel  string  `yaml:"speech_model"`
	Voice        string  `yaml:"voice"`
	MusicAPIURL  string  `yaml:"music_api_url"`
	MusicToken   string  `yaml:"music_api_token"`
	VideoAPIURL  string  `yaml:"video_api_url"`
	VideoAPIKey  string  `yaml:"video_api_key"`
	FFmpegPath   string  `yaml:"ffmpeg_path"`
}

// Config 存储应用配置
type Config struct {
	Port        string `yaml:"port"`
	DataDir     string `yaml:"data_dir"`
	LogDir      string `yaml:"log_dir"`
	LogLevel    string `yaml:"log_level"`
	DebugMode   bool   `yaml:"debug_mode"`
	PromptsDir  string `yaml:"prompts_dir"`
	MaxRetries  int    `yaml:"max_retries"`
	JournalPath string `yaml:"journal_path"`
	AuthSecret  string `yaml:"auth_secret"`
	// 每个客户端 IP 每秒允许的 API 请求数，<= 0 表示不限
	APIRatePerSec float64 `yaml:"api_rate_per_sec"`

	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Media   MediaConfig   `yaml:"media"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Port:          "8080",
		DataDir:       "data",
		LogDir:        "logs",
		LogLevel:      "info",
		MaxRetries:    DefaultMaxRetries,
		APIRatePerSec: 20,
		LLM: LLMConfig{
			Provider:    "anthropic",
			MaxTokens:   DefaultLLMMaxTokens,
			Temperature: DefaultLLMTemperature,
		},
		Storage: StorageConfig{
			Backend: StorageBackendNone,
			Region:  "us-east-1",
		},
		Media: MediaConfig{
			Concurrency: 4,
			RatePerSec:  2,
			ImageModel:  "dall-e-3",
			SpeechModel: "tts-1",
			Voice:       "onyx",
			FFmpegPath:  "ffmpeg",
		},
	}
}

// Load 从 .env、YAML 配置文件和环境变量加载配置，后者优先
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := Default()

	path := getEnv("DIRECTOR_CONFIG", DefaultConfigFile)
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 只从指定 YAML 文件加载（文件不存在时使用默认值），然后应用环境变量
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.NewConfigurationError(fmt.Sprintf("读取配置文件失败: %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("解析配置文件失败: %s", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DebugMode = getEnvBool("DEBUG_MODE", c.DebugMode)
	c.PromptsDir = getEnv("PROMPTS_DIR", c.PromptsDir)
	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.AuthSecret = getEnv("AUTH_SECRET", c.AuthSecret)
	c.APIRatePerSec = getEnvFloat("API_RATE_PER_SEC", c.APIRatePerSec)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = getEnv("STORAGE_DIR", c.Storage.Dir)
	c.Storage.S3Bucket = getEnv("S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3Prefix = getEnv("S3_PREFIX", c.Storage.S3Prefix)
	c.Storage.Region = getEnv("AWS_REGION", c.Storage.Region)

	c.Media.Mock = getEnvBool("MEDIA_MOCK", c.Media.Mock)
	c.Media.Concurrency = getEnvInt("MEDIA_CONCURRENCY", c.Media.Concurrency)
	c.Media.RatePerSec = getEnvFloat("MEDIA_RATE_PER_SEC", c.Media.RatePerSec)
	c.Media.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.Media.OpenAIAPIKey)
	c.Media.MusicAPIURL = getEnv("MUSIC_API_URL", c.Media.MusicAPIURL)
	c.Media.MusicToken = getEnv("MUSIC_API_TOKEN", c.Media.MusicToken)
	c.Media.VideoAPIURL = getEnv("VIDEO_API_URL", c.Media.VideoAPIURL)
	c.Media.VideoAPIKey = getEnv("VIDEO_API_KEY", c.Media.VideoAPIKey)
	c.Media.FFmpegPath = getEnv("FFMPEG_PATH", c.Media.FFmpegPath)

	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(c.DataDir, "journal.db")
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if c.MaxRetries <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("max_retries 必须为正数, got %d", c.MaxRetries), nil)
	}
	if c.DataDir == "" {
		return apperrors.NewConfigurationError("data_dir 不能为空", nil)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "", StorageBackendNone:
		c.Storage.Backend = StorageBackendNone
	case StorageBackendDir:
		if c.Storage.Dir == "" {
			return apperrors.NewConfigurationError("storage backend dir requires STORAGE_DIR", nil)
		}
	case StorageBackendS3:
		if c.Storage.S3Bucket == "" {
			return apperrors.NewConfigurationError("storage backend s3 requires S3_BUCKET", nil)
		}
	default:
		return apperrors.NewConfigurationError(fmt.Sprintf("unknown storage backend: %s", c.Storage.Backend), nil)
	}

	if c.Media.Concurrency <= 0 {
		c.Media.Concurrency = 1
	}
	return nil
}

// ProviderConfig 转换为提供者初始化参数
func (c LLMConfig) ProviderConfig() map[string]string {
	cfg := map[string]string{"api_key": c.APIKey}
	if c.Model != "" {
		cfg["default_model"] = c.Model
	}
	if c.BaseURL != "" {
		cfg["base_url"] = c.BaseURL
	}
	return cfg
}

// EnsureDirs 创建数据与日志目录
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
