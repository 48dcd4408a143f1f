// Package ocr 调用 Google Cloud Vision 识别绘本图片中的日语文字
package ocr

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
	"os"
	"strings"
	"time"

	"github.com/z-wentao/jkid/pkg/models"
)

const defaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// ErrEmptyImage 图片为空，不发起请求
var ErrEmptyImage = errors.New("图片内容为空")

// VisionClient Google Cloud Vision REST 客户端（API Key 认证）
type VisionClient struct {
	apiKey        string
	endpoint      string
	languageHints []string
	httpClient    *http.Client
}

// VisionOption 客户端配置项
type VisionOption func(*VisionClient)

// WithEndpoint 替换接口地址（测试或代理）
func WithEndpoint(endpoint string) VisionOption {
	return func(c *VisionClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithLanguageHints 设置语言提示，默认 ja
func WithLanguageHints(hints ...string) VisionOption {
	return func(c *VisionClient) {
		if len(hints) > 0 {
			c.languageHints = hints
		}
	}
}

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) VisionOption {
	return func(c *VisionClient) { c.httpClient = hc }
}

// NewVisionClient 创建 Vision 客户端
func NewVisionClient(apiKey string, opts ...VisionOption) *VisionClient {
	c := &VisionClient{
		apiKey:        apiKey,
		endpoint:      defaultEndpoint,
		languageHints: []string{"ja"},
		httpClient:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image        imageContent `json:"image"`
	Features     []feature    `json:"features"`
	ImageContext imageContext `json:"imageContext"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type imageContext struct {
	LanguageHints []string `json:"languageHints"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
}

type imageResponse struct {
	FullTextAnnotation *fullTextAnnotation `json:"fullTextAnnotation"`
	TextAnnotations    []entityAnnotation  `json:"textAnnotations"`
	Error              *apiError           `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type entityAnnotation struct {
	Locale      string `json:"locale"`
	Description string `json:"description"`
}

type fullTextAnnotation struct {
	Text  string `json:"text"`
	Pages []page `json:"pages"`
}

type page struct {
	Property *textProperty `json:"property"`
	Blocks   []block       `json:"blocks"`
}

type textProperty struct {
	DetectedLanguages []detectedLanguage `json:"detectedLanguages"`
}

type detectedLanguage struct {
	LanguageCode string  `json:"languageCode"`
	Confidence   float64 `json:"confidence"`
}

type block struct {
	Paragraphs []paragraph `json:"paragraphs"`
}

type paragraph struct {
	Confidence float64 `json:"confidence"`
	Words      []word  `json:"words"`
}

type word struct {
	Symbols []symbol `json:"symbols"`
}

type symbol struct {
	Text string `json:"text"`
}

// ExtractText 读取本地图片并识别文字
// 图片中没有文字时返回空结果而不是错误
func (c *VisionClient) ExtractText(ctx context.Context, imagePath string, mode models.DetectionMode) (*models.OCRResult, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("读取图片失败: %w", err)
	}
	return c.ExtractBytes(ctx, data, mode)
}

// ExtractBytes 识别内存中的图片
func (c *VisionClient) ExtractBytes(ctx context.Context, image []byte, mode models.DetectionMode) (*models.OCRResult, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if mode == "" {
		mode = models.DetectDocumentText
	}

	resp, err := c.annotate(ctx, image, mode)
	if err != nil {
		return nil, err
	}
	if len(resp.Responses) == 0 {
		return &models.OCRResult{TextBlocks: []models.TextBlock{}, Language: []models.DetectedLanguage{}}, nil
	}

	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("Vision API 错误 %s: %s", r.Error.Status, r.Error.Message)
	}
	return toResult(r), nil
}

func (c *VisionClient) annotate(ctx context.Context, image []byte, mode models.DetectionMode) (*annotateResponse, error) {
	body, err := json.Marshal(annotateRequest{Requests: []imageRequest{{
		Image:        imageContent{Content: base64.StdEncoding.EncodeToString(image)},
		Features:     []feature{{Type: string(mode), MaxResults: 10}},
		ImageContext: imageContext{LanguageHints: c.languageHints},
	}}})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API请求失败: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		var wrapped struct {
			Error apiError `json:"error"`
		}
		if json.Unmarshal(payload, &wrapped) == nil && wrapped.Error.Message != "" {
			return nil, fmt.Errorf("API请求失败 (%d): %s", res.StatusCode, wrapped.Error.Message)
		}
		return nil, fmt.Errorf("API请求失败 (%d): %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out annotateResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &out, nil
}

// toResult 文档模式取 fullTextAnnotation 的段落，普通模式取 textAnnotations
func toResult(r imageResponse) *models.OCRResult {
	out := &models.OCRResult{
		TextBlocks: []models.TextBlock{},
		Language:   []models.DetectedLanguage{},
	}

	if fta := r.FullTextAnnotation; fta != nil && fta.Text != "" {
		out.FullText = fta.Text
		for _, p := range fta.Pages {
			for _, b := range p.Blocks {
				for _, para := range b.Paragraphs {
					var sb strings.Builder
					for _, w := range para.Words {
						for _, s := range w.Symbols {
							sb.WriteString(s.Text)
						}
					}
					if text := sb.String(); text != "" {
						out.TextBlocks = append(out.TextBlocks, models.TextBlock{Text: text, Confidence: para.Confidence})
					}
				}
			}
		}
		if len(fta.Pages) > 0 && fta.Pages[0].Property != nil {
			for _, l := range fta.Pages[0].Property.DetectedLanguages {
				out.Language = append(out.Language, models.DetectedLanguage{
					LanguageCode: l.LanguageCode,
					Confidence:   l.Confidence,
				})
			}
		}
		return out
	}

	// textAnnotations[0] 是整图文字，其余是单词
	if len(r.TextAnnotations) > 0 {
		out.FullText = r.TextAnnotations[0].Description
		if locale := r.TextAnnotations[0].Locale; locale != "" {
			out.Language = append(out.Language, models.DetectedLanguage{LanguageCode: locale})
		}
		for _, a := range r.TextAnnotations[1:] {
			out.TextBlocks = append(out.TextBlocks, models.TextBlock{Text: a.Description})
		}
	}
	return out
}
