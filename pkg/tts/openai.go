package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/z-wentao/jkid/pkg/models"
)

// OpenAISpeech 使用 OpenAI 兼容的 /audio/speech 接口
// VoiceConfig.Name 作为 voice，SpeakingRate 作为 speed
type OpenAISpeech struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISpeech baseURL 为空时使用官方地址
func NewOpenAISpeech(apiKey, baseURL, model string) *OpenAISpeech {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	m := openai.TTSModel1
	if model != "" {
		m = openai.SpeechModel(model)
	}
	return &OpenAISpeech{client: openai.NewClientWithConfig(cfg), model: m}
}

// Synthesize 合成 mp3
func (s *OpenAISpeech) Synthesize(ctx context.Context, text string, voice models.VoiceConfig) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	name := openai.VoiceNova
	// Google 的语音名不能直接用
	if voice.Name != "" && !strings.Contains(voice.Name, "-") {
		name = openai.SpeechVoice(voice.Name)
	}
	speed := voice.SpeakingRate
	if speed <= 0 {
		speed = models.DefaultVoice().SpeakingRate
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          name,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("调用语音接口失败: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("读取音频失败: %w", err)
	}
	return audio, nil
}
