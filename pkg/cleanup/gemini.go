package cleanup

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel 默认 Gemini 模型
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiOptions Gemini 配置
type GeminiOptions struct {
	APIKey string
	Model  string
	// BaseURL 为空时使用官方地址
	BaseURL     string
	Temperature float32
}

// GeminiCleaner 使用 Gemini 生成分节文本
type GeminiCleaner struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiCleaner 创建 Gemini 清洗器
func NewGeminiCleaner(ctx context.Context, opts GeminiOptions) (*GeminiCleaner, error) {
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	return &GeminiCleaner{client: client, model: opts.Model, temperature: opts.Temperature}, nil
}

// Clean 返回模型输出的分节文本
func (g *GeminiCleaner) Clean(ctx context.Context, rawText string) (string, error) {
	if strings.TrimSpace(rawText) == "" {
		return "", ErrEmptyText
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(systemPrompt+"\n\n"+buildPrompt(rawText)),
		&genai.GenerateContentConfig{Temperature: genai.Ptr(g.temperature)},
	)
	if err != nil {
		return "", fmt.Errorf("API请求失败: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errBadResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errBadResponse
	}
	return sb.String(), nil
}
