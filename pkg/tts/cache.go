package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/z-wentao/jkid/pkg/models"
)

// Synthesizer 与 pipeline.Synthesizer 相同
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice models.VoiceConfig) ([]byte, error)
}

// AudioCache 音频缓存，未命中时返回 nil, false, nil
type AudioCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, audio []byte) error
}

// CachedSynthesizer 按 (语音参数, 文本) 缓存合成结果
// 绘本每页的指导语经常重复
type CachedSynthesizer struct {
	next   Synthesizer
	cache  AudioCache
	logger *slog.Logger
}

// NewCachedSynthesizer 包装一个合成器
func NewCachedSynthesizer(next Synthesizer, cache AudioCache, logger *slog.Logger) *CachedSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSynthesizer{next: next, cache: cache, logger: logger}
}

// Synthesize 缓存读写失败只记日志，不影响合成
func (c *CachedSynthesizer) Synthesize(ctx context.Context, text string, voice models.VoiceConfig) ([]byte, error) {
	key := CacheKey(text, voice)

	if audio, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("⚠️ 读取语音缓存失败", "error", err)
	} else if ok {
		c.logger.Debug("语音缓存命中", "key", key)
		return audio, nil
	}

	audio, err := c.next.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, audio); err != nil {
		c.logger.Warn("⚠️ 写入语音缓存失败", "error", err)
	}
	return audio, nil
}

// CacheKey sha256(语音参数 JSON + 文本)
func CacheKey(text string, voice models.VoiceConfig) string {
	v, _ := json.Marshal(voice)
	h := sha256.New()
	h.Write(v)
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
