package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/z-wentao/jkid/pkg/segmenter"
)

// DefaultBaseURL OpenAI 兼容接口地址
const DefaultBaseURL = "https://space.ai-builders.com/backend/v1"

// DefaultModel 默认模型
const DefaultModel = "grok-4-fast"

var errBadResponse = errors.New("API返回格式异常")

// OpenAIOptions OpenAI 兼容接口配置
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

func (o *OpenAIOptions) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Temperature == 0 {
		o.Temperature = 0.3
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 2000
	}
}

// OpenAICleaner 使用分节提示词，返回原始文本
type OpenAICleaner struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAICleaner 创建清洗器
func NewOpenAICleaner(opts OpenAIOptions) *OpenAICleaner {
	opts.defaults()
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &OpenAICleaner{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Clean 返回模型输出的分节文本
func (c *OpenAICleaner) Clean(ctx context.Context, rawText string) (string, error) {
	if strings.TrimSpace(rawText) == "" {
		return "", ErrEmptyText
	}
	return c.complete(ctx, buildPrompt(rawText), nil)
}

func (c *OpenAICleaner) complete(ctx context.Context, prompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    c.opts.Temperature,
		MaxTokens:      c.opts.MaxTokens,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("API请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errBadResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIJSONCleaner 要求模型直接输出 JSON
type OpenAIJSONCleaner struct {
	*OpenAICleaner
	sentencesPerSegment int
}

// NewOpenAIJSONCleaner 创建 JSON 清洗器，sentencesPerSegment 用于模型未分段时自动分段
func NewOpenAIJSONCleaner(opts OpenAIOptions, sentencesPerSegment int) *OpenAIJSONCleaner {
	return &OpenAIJSONCleaner{
		OpenAICleaner:       NewOpenAICleaner(opts),
		sentencesPerSegment: sentencesPerSegment,
	}
}

type jsonResult struct {
	Instruction string   `json:"instruction"`
	MainText    string   `json:"main_text"`
	Segments    []string `json:"segments"`
	Translation string   `json:"translation"`
}

// CleanStructured 解析 JSON 输出
// JSON 不可用时返回 nil 结果和原始输出，由调用方走分节解析
func (c *OpenAIJSONCleaner) CleanStructured(ctx context.Context, rawText string) (*segmenter.ParsedText, string, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, "", ErrEmptyText
	}
	content, err := c.complete(ctx, buildJSONPrompt(rawText), &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return nil, "", err
	}
	return decodeJSON(content, c.sentencesPerSegment), content, nil
}

func decodeJSON(content string, n int) *segmenter.ParsedText {
	var r jsonResult
	if err := json.Unmarshal([]byte(stripFence(content)), &r); err != nil {
		return nil
	}
	mainText := strings.TrimSpace(r.MainText)
	if mainText == "" {
		return nil
	}

	segments := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		segments = segmenter.AutoSegment(mainText, n)
	}
	return &segmenter.ParsedText{
		Instruction: strings.TrimSpace(r.Instruction),
		MainText:    mainText,
		Segments:    segments,
		Translation: strings.TrimSpace(r.Translation),
	}
}

// stripFence 去掉 ```json 代码块包裹
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
