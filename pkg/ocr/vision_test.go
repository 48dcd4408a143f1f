package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/z-wentao/jkid/pkg/models"
)

const documentResponse = `{
  "responses": [{
    "fullTextAnnotation": {
      "text": "ねこが\nいます。\n",
      "pages": [{
        "property": {"detectedLanguages": [{"languageCode": "ja", "confidence": 0.97}]},
        "blocks": [{
          "paragraphs": [
            {"confidence": 0.95, "words": [{"symbols": [{"text": "ね"}, {"text": "こ"}]}, {"symbols": [{"text": "が"}]}]},
            {"confidence": 0.9, "words": [{"symbols": [{"text": "い"}, {"text": "ま"}, {"text": "す"}, {"text": "。"}]}]}
          ]
        }]
      }]
    }
  }]
}`

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestExtractTextDocumentMode(t *testing.T) {
	var got annotateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(documentResponse))
	}))
	defer srv.Close()

	client := NewVisionClient("secret", WithEndpoint(srv.URL))
	res, err := client.ExtractText(context.Background(), writeImage(t, []byte("png-bytes")), models.DetectDocumentText)
	require.NoError(t, err)

	require.Len(t, got.Requests, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), got.Requests[0].Image.Content)
	assert.Equal(t, "DOCUMENT_TEXT_DETECTION", got.Requests[0].Features[0].Type)
	assert.Equal(t, 10, got.Requests[0].Features[0].MaxResults)
	assert.Equal(t, []string{"ja"}, got.Requests[0].ImageContext.LanguageHints)

	assert.Equal(t, "ねこが\nいます。\n", res.FullText)
	assert.Equal(t, []models.TextBlock{
		{Text: "ねこが", Confidence: 0.95},
		{Text: "います。", Confidence: 0.9},
	}, res.TextBlocks)
	assert.Equal(t, []models.DetectedLanguage{{LanguageCode: "ja", Confidence: 0.97}}, res.Language)
}

func TestExtractTextPlainMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responses":[{"textAnnotations":[
			{"locale":"ja","description":"ねこ いぬ"},
			{"description":"ねこ"},
			{"description":"いぬ"}]}]}`))
	}))
	defer srv.Close()

	client := NewVisionClient("k", WithEndpoint(srv.URL))
	res, err := client.ExtractBytes(context.Background(), []byte("img"), models.DetectText)
	require.NoError(t, err)

	assert.Equal(t, "ねこ いぬ", res.FullText)
	assert.Len(t, res.TextBlocks, 2)
	assert.Equal(t, "ja", res.Language[0].LanguageCode)
}

func TestExtractTextNoTextFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responses":[{}]}`))
	}))
	defer srv.Close()

	res, err := NewVisionClient("k", WithEndpoint(srv.URL)).ExtractBytes(context.Background(), []byte("img"), "")
	require.NoError(t, err)
	assert.Empty(t, res.FullText)
	assert.Empty(t, res.TextBlocks)
}

func TestExtractTextErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responses":[{"error":{"code":3,"status":"INVALID_ARGUMENT","message":"Bad image data."}}]}`))
	}))
	defer srv.Close()

	_, err := NewVisionClient("k", WithEndpoint(srv.URL)).ExtractBytes(context.Background(), []byte("img"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad image data.")
}

func TestExtractTextHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid."}}`))
	}))
	defer srv.Close()

	_, err := NewVisionClient("k", WithEndpoint(srv.URL)).ExtractBytes(context.Background(), []byte("img"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "API key not valid.")
}

func TestExtractTextRejectsEmptyImage(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	client := NewVisionClient("k", WithEndpoint(srv.URL))
	_, err := client.ExtractText(context.Background(), writeImage(t, nil), "")

	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.False(t, called)
}

func TestExtractTextMissingFile(t *testing.T) {
	_, err := NewVisionClient("k").ExtractText(context.Background(), filepath.Join(t.TempDir(), "nope.png"), "")
	assert.Error(t, err)
}
