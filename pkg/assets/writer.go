// Package assets 管理上传图片和合成音频的落盘
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/z-wentao/jkid/pkg/models"
)

// AudioURLPrefix 音频静态路由
const AudioURLPrefix = "/static/audio"

var (
	// ErrInvalidName 任务 ID 或单元名含非法字符
	ErrInvalidName = errors.New("非法的文件名")
	// ErrUnsupportedType 不支持的图片格式
	ErrUnsupportedType = errors.New("不支持的文件格式")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FSWriter 把音频写到本地目录，返回静态访问路径
type FSWriter struct {
	AudioDir      string
	PublicBaseURL string
	Encoding      models.AudioEncoding
}

// NewFSWriter publicBaseURL 为空时返回站内相对路径
func NewFSWriter(audioDir, publicBaseURL string, enc models.AudioEncoding) *FSWriter {
	if enc == "" {
		enc = models.EncodingMP3
	}
	return &FSWriter{
		AudioDir:      audioDir,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		Encoding:      enc,
	}
}

// WriteAudio 写入 {dir}/{taskID}_{unit}{ext}
func (w *FSWriter) WriteAudio(taskID, unit string, data []byte) (string, error) {
	if !nameRe.MatchString(taskID) || !nameRe.MatchString(unit) {
		return "", fmt.Errorf("%w: %s_%s", ErrInvalidName, taskID, unit)
	}
	if err := os.MkdirAll(w.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("创建音频目录失败: %w", err)
	}

	name := taskID + "_" + unit + w.Encoding.Ext()
	if err := os.WriteFile(filepath.Join(w.AudioDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("写入音频失败: %w", err)
	}
	return w.buildURL(AudioURLPrefix + "/" + name), nil
}

func (w *FSWriter) buildURL(path string) string {
	if w.PublicBaseURL == "" {
		return path
	}
	return w.PublicBaseURL + path
}

// ImageExtensions 允许上传的图片扩展名
var ImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".heic": true,
	".heif": true,
	".gif":  true,
	".bmp":  true,
}

var unsafeRe = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// UploadName 清洗上传文件名并追加时间戳：{name}_{unix}{ext}
func UploadName(filename string, now time.Time) (string, error) {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	if !ImageExtensions[ext] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(unsafeRe.ReplaceAllString(stem, "_"), "._")
	if stem == "" {
		stem = "image"
	}
	return fmt.Sprintf("%s_%d%s", stem, now.Unix(), ext), nil
}
