package pipeline

import (
	"context"

	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/segmenter"
)

// OCRProvider 图片文字识别
type OCRProvider interface {
	ExtractText(ctx context.Context, imageRef string, mode models.DetectionMode) (*models.OCRResult, error)
}

// TextCleaner 返回 LLM 的原始分节文本，由 segmenter 解析
type TextCleaner interface {
	Clean(ctx context.Context, rawText string) (string, error)
}

// StructuredCleaner 直接返回结构化结果的清洗器
// 第二个返回值是模型原始输出，用于排查
type StructuredCleaner interface {
	TextCleaner
	CleanStructured(ctx context.Context, rawText string) (*segmenter.ParsedText, string, error)
}

// Synthesizer 语音合成
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice models.VoiceConfig) ([]byte, error)
}

// AudioWriter 保存合成好的音频，返回可访问的引用
type AudioWriter interface {
	WriteAudio(taskID, unit string, data []byte) (string, error)
}

// TaskStore Runner 需要的存储能力
type TaskStore interface {
	Get(id string) (models.Task, bool)
	Update(id string, u models.TaskUpdate)
}

// Registry Supervisor 需要的存储能力
type Registry interface {
	TaskStore
	Create(sourceRef string) string
	List() []models.Task
}
