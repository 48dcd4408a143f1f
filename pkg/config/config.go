package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/z-wentao/jkid/pkg/models"
)

// DefaultPath 默认配置文件路径，可用 JKID_CONFIG 覆盖
const DefaultPath = "config/config.yaml"

// Config 应用配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Task     TaskConfig     `yaml:"task"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Queue    QueueConfig    `yaml:"queue"`
	OCR      OCRConfig      `yaml:"ocr"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port                   int    `yaml:"port" validate:"gt=0,lt=65536"`
	MaxUploadSize          int64  `yaml:"max_upload_size" validate:"gt=0"`
	UploadDir              string `yaml:"upload_dir" validate:"required"`
	AudioDir               string `yaml:"audio_dir" validate:"required"`
	PublicBaseURL          string `yaml:"public_base_url" validate:"omitempty,url"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" validate:"gte=0"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// TaskConfig 任务保留策略
type TaskConfig struct {
	TTLSeconds           int `yaml:"ttl_seconds" validate:"gt=0"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" validate:"gt=0"`
}

// PipelineConfig 流水线参数
type PipelineConfig struct {
	SentencesPerSegment   int    `yaml:"sentences_per_segment" validate:"gte=1"`
	DetectionMode         string `yaml:"detection_mode" validate:"oneof=DOCUMENT_TEXT_DETECTION TEXT_DETECTION"`
	OCRTimeoutSeconds     int    `yaml:"ocr_timeout_seconds" validate:"gt=0"`
	CleanupTimeoutSeconds int    `yaml:"cleanup_timeout_seconds" validate:"gt=0"`
	SpeechTimeoutSeconds  int    `yaml:"speech_timeout_seconds" validate:"gt=0"`
	SpeechConcurrency     int    `yaml:"speech_concurrency" validate:"gte=1"` // 每个任务同时合成的单元数
}

// DispatchConfig 调度方式
type DispatchConfig struct {
	Mode     string `yaml:"mode" validate:"oneof=goroutine pool"`
	PoolSize int    `yaml:"pool_size" validate:"gte=1"` // pool 模式下的 Worker 数量
}

// QueueConfig 队列配置（仅 pool 模式）
type QueueConfig struct {
	Type       string         `yaml:"type" validate:"oneof=memory rabbitmq"`
	BufferSize int            `yaml:"buffer_size" validate:"gte=1"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
	MaxLength int    `yaml:"max_length" validate:"gte=0"`
}

// OCRConfig Vision 配置
type OCRConfig struct {
	APIKey        string   `yaml:"api_key"`
	Endpoint      string   `yaml:"endpoint" validate:"omitempty,url"`
	LanguageHints []string `yaml:"language_hints"`
}

// LLMConfig 文本清洗配置
type LLMConfig struct {
	Provider     string  `yaml:"provider" validate:"oneof=openai gemini none"`
	Format       string  `yaml:"format" validate:"oneof=labeled json"` // openai 的输出格式
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url" validate:"omitempty,url"`
	Model        string  `yaml:"model"`
	Temperature  float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `yaml:"max_tokens" validate:"gte=0"`
	GeminiAPIKey string  `yaml:"gemini_api_key"`
	GeminiModel  string  `yaml:"gemini_model"`
}

// TTSConfig 语音合成配置
type TTSConfig struct {
	Provider    string             `yaml:"provider" validate:"oneof=google openai none"`
	APIKey      string             `yaml:"api_key"`
	Endpoint    string             `yaml:"endpoint" validate:"omitempty,url"`
	OpenAIModel string             `yaml:"openai_model"`
	Voice       models.VoiceConfig `yaml:"voice"`
	Cache       CacheConfig        `yaml:"cache"`
}

// CacheConfig Redis 音频缓存
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr" validate:"required_if=Enabled true"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" validate:"gte=0"`
	TTLSeconds int    `yaml:"ttl_seconds" validate:"gte=0"`
}

// ArchiveConfig 终态任务归档
type ArchiveConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Driver               string `yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN                  string `yaml:"dsn" validate:"required_if=Enabled true"`
	QueueSize            int    `yaml:"queue_size" validate:"gte=1"`
	BatchSize            int    `yaml:"batch_size" validate:"gte=1"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds" validate:"gte=1"`
}

// LoadConfig 加载配置文件，文件不存在时使用默认值
// 顺序：.env → YAML → 环境变量覆盖 → 默认值与校验
func LoadConfig(configPath string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

// applyEnv 密钥和端口以环境变量为准
func (c *Config) applyEnv() error {
	if v := os.Getenv("GOOGLE_CLOUD_API_KEY"); v != "" {
		c.OCR.APIKey = v
		c.TTS.APIKey = v
	}
	if v := os.Getenv("SUPER_MIND_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT 不是有效端口: %s", v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate 填充默认值并校验
func (c *Config) Validate() error {
	c.setDefaults()
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Dispatch.Mode == "pool" && c.Queue.Type == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		return errors.New("rabbitmq 队列需要设置 queue.rabbitmq.url")
	}
	return nil
}

func (c *Config) setDefaults() {
	s := &c.Server
	if s.Port <= 0 {
		s.Port = 8000
	}
	if s.MaxUploadSize <= 0 {
		s.MaxUploadSize = 10 << 20
	}
	if s.UploadDir == "" {
		s.UploadDir = "uploads"
	}
	if s.AudioDir == "" {
		s.AudioDir = "static/audio"
	}
	if s.ShutdownTimeoutSeconds == 0 {
		s.ShutdownTimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Task.TTLSeconds <= 0 {
		c.Task.TTLSeconds = 3600
	}
	if c.Task.SweepIntervalSeconds <= 0 {
		c.Task.SweepIntervalSeconds = 300
	}

	p := &c.Pipeline
	if p.SentencesPerSegment == 0 {
		p.SentencesPerSegment = 2
	}
	if p.DetectionMode == "" {
		p.DetectionMode = string(models.DetectDocumentText)
	}
	if p.OCRTimeoutSeconds <= 0 {
		p.OCRTimeoutSeconds = 60
	}
	if p.CleanupTimeoutSeconds <= 0 {
		p.CleanupTimeoutSeconds = 30
	}
	if p.SpeechTimeoutSeconds <= 0 {
		p.SpeechTimeoutSeconds = 30
	}
	if p.SpeechConcurrency == 0 {
		p.SpeechConcurrency = 1
	}

	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = "goroutine"
	}
	if c.Dispatch.PoolSize == 0 {
		c.Dispatch.PoolSize = 4
	}

	if c.Queue.Type == "" {
		c.Queue.Type = "memory"
	}
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.RabbitMQ.QueueName == "" {
		c.Queue.RabbitMQ.QueueName = "jkid_tasks"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Format == "" {
		c.LLM.Format = "labeled"
	}
	// 没有密钥时退化为 OCR 原文
	if (c.LLM.Provider == "openai" && c.LLM.APIKey == "") ||
		(c.LLM.Provider == "gemini" && c.LLM.GeminiAPIKey == "") {
		c.LLM.Provider = "none"
	}

	if c.TTS.Provider == "" {
		c.TTS.Provider = "google"
	}
	c.TTS.Voice = mergeVoice(c.TTS.Voice)
	if c.TTS.Cache.TTLSeconds == 0 {
		c.TTS.Cache.TTLSeconds = 7 * 24 * 3600
	}

	a := &c.Archive
	if a.Driver == "" {
		a.Driver = "sqlite"
	}
	if a.QueueSize == 0 {
		a.QueueSize = 100
	}
	if a.BatchSize == 0 {
		a.BatchSize = 50
	}
	if a.FlushIntervalSeconds == 0 {
		a.FlushIntervalSeconds = 5
	}
}

func mergeVoice(v models.VoiceConfig) models.VoiceConfig {
	d := models.DefaultVoice()
	if v.LanguageCode == "" {
		v.LanguageCode = d.LanguageCode
	}
	if v.Name == "" {
		v.Name = d.Name
	}
	if v.SpeakingRate == 0 {
		v.SpeakingRate = d.SpeakingRate
	}
	if v.Pitch == 0 {
		v.Pitch = d.Pitch
	}
	if v.VolumeGainDB == 0 {
		v.VolumeGainDB = d.VolumeGainDB
	}
	if v.AudioEncoding == "" {
		v.AudioEncoding = d.AudioEncoding
	}
	return v
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// TTL 任务保留时长
func (t TaskConfig) TTL() time.Duration { return seconds(t.TTLSeconds) }

// SweepInterval 清理间隔
func (t TaskConfig) SweepInterval() time.Duration { return seconds(t.SweepIntervalSeconds) }

// ShutdownTimeout 优雅关闭超时
func (s ServerConfig) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSeconds) }

// TTL 缓存有效期
func (c CacheConfig) TTL() time.Duration { return seconds(c.TTLSeconds) }

// FlushInterval 归档刷新间隔
func (a ArchiveConfig) FlushInterval() time.Duration { return seconds(a.FlushIntervalSeconds) }

// Timeouts 三个阶段的超时
func (p PipelineConfig) Timeouts() (ocr, cleanup, speech time.Duration) {
	return seconds(p.OCRTimeoutSeconds), seconds(p.CleanupTimeoutSeconds), seconds(p.SpeechTimeoutSeconds)
}
