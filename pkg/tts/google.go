// Package tts 日语语音合成
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/z-wentao/jkid/pkg/models"
)

const defaultEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

// ErrEmptyText 文本为空，不发起请求
var ErrEmptyText = errors.New("输入文本为空")

// GoogleClient Google Cloud Text-to-Speech REST 客户端
type GoogleClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewGoogleClient endpoint 为空时使用官方地址
func NewGoogleClient(apiKey, endpoint string) *GoogleClient {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &GoogleClient{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch"`
	VolumeGainDB  float64 `json:"volumeGainDb"`
	Model         string  `json:"model,omitempty"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize 合成一段文本，返回解码后的音频
func (c *GoogleClient) Synthesize(ctx context.Context, text string, voice models.VoiceConfig) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice = withDefaults(voice)

	body, err := json.Marshal(synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceSelection{LanguageCode: voice.LanguageCode, Name: voice.Name},
		AudioConfig: audioConfig{
			AudioEncoding: string(voice.AudioEncoding),
			SpeakingRate:  voice.SpeakingRate,
			Pitch:         voice.Pitch,
			VolumeGainDB:  voice.VolumeGainDB,
			Model:         voice.Model,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API请求失败: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &e) == nil && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return nil, fmt.Errorf("TTS API错误 (%d): %s", resp.StatusCode, msg)
	}

	var out synthesizeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if out.AudioContent == "" {
		return nil, errors.New("API响应中没有音频数据")
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("解码音频失败: %w", err)
	}
	return audio, nil
}

// withDefaults 空字段用默认儿童语音补齐
func withDefaults(v models.VoiceConfig) models.VoiceConfig {
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
	if v.AudioEncoding == "" {
		v.AudioEncoding = d.AudioEncoding
	}
	return v
}
