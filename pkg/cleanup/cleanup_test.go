package cleanup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model          string  `json:"model"`
	Temperature    float32 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICleanerClean(t *testing.T) {
	var req chatRequest
	srv := chatServer(t, "正文：\nねこがいます。", &req)

	c := NewOpenAICleaner(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL})
	out, err := c.Clean(context.Background(), "ねこが\nいます。 4A")
	require.NoError(t, err)

	assert.Equal(t, "正文：\nねこがいます。", out)
	assert.Equal(t, DefaultModel, req.Model)
	assert.InDelta(t, 0.3, req.Temperature, 0.0001)
	assert.Equal(t, 2000, req.MaxTokens)
	assert.Nil(t, req.ResponseFormat)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[1].Content, "ねこが\nいます。 4A")
	assert.Contains(t, req.Messages[1].Content, "中文翻译：")
}

func TestOpenAICleanerRejectsEmpty(t *testing.T) {
	c := NewOpenAICleaner(OpenAIOptions{APIKey: "test-key", BaseURL: "http://127.0.0.1:0"})
	_, err := c.Clean(context.Background(), "  \n ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestOpenAICleanerNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICleaner(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL}).Clean(context.Background(), "ねこ")
	assert.ErrorIs(t, err, errBadResponse)
}

func TestOpenAICleanerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key","type":"auth"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICleaner(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL}).Clean(context.Background(), "ねこ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API请求失败")
}

func TestOpenAIJSONCleanerStructured(t *testing.T) {
	var req chatRequest
	content := `{"instruction":"よみましょう。","main_text":"ねこがいます。いぬもいます。","segments":["ねこがいます。"," ","いぬもいます。"],"translation":"有猫。"}`
	srv := chatServer(t, content, &req)

	c := NewOpenAIJSONCleaner(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL}, 2)
	parsed, raw, err := c.CleanStructured(context.Background(), "ねこが います")
	require.NoError(t, err)
	require.NotNil(t, parsed)

	assert.Equal(t, content, raw)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	assert.Equal(t, "よみましょう。", parsed.Instruction)
	assert.Equal(t, "ねこがいます。いぬもいます。", parsed.MainText)
	assert.Equal(t, []string{"ねこがいます。", "いぬもいます。"}, parsed.Segments)
	assert.Equal(t, "有猫。", parsed.Translation)
}

func TestDecodeJSON(t *testing.T) {
	t.Run("fenced", func(t *testing.T) {
		p := decodeJSON("```json\n{\"main_text\":\"あ。い。う。\"}\n```", 2)
		require.NotNil(t, p)
		assert.Equal(t, []string{"あ。い。", "う。"}, p.Segments)
	})
	t.Run("not json", func(t *testing.T) {
		assert.Nil(t, decodeJSON("正文：\nあ。", 2))
	})
	t.Run("empty main text", func(t *testing.T) {
		assert.Nil(t, decodeJSON(`{"instruction":"x","main_text":" "}`, 2))
	})
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("あ", maxInputLength+10)
	got := truncate(long)
	assert.Equal(t, maxInputLength+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "ねこ", truncate("  ねこ \n"))
}

func TestGeminiCleanerClean(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"正文：\n"},{"text":"ねこがいます。"}]}}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	g, err := NewGeminiCleaner(ctx, GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := g.Clean(ctx, "ねこが います")
	require.NoError(t, err)
	assert.Equal(t, "正文：\nねこがいます。", out)
	assert.Contains(t, body, "contents")
}

func TestGeminiCleanerNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	g, err := NewGeminiCleaner(ctx, GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Clean(ctx, "ねこ")
	assert.ErrorIs(t, err, errBadResponse)

	_, err = g.Clean(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyText)
}
