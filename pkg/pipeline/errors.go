package pipeline

import (
	"errors"
	"fmt"

	"github.com/z-wentao/jkid/pkg/models"
)

var (
	// ErrEmptySource 提交时没有图片引用
	ErrEmptySource = errors.New("图片路径为空")
	// ErrNotConfigured 能力未配置
	ErrNotConfigured = errors.New("模块未初始化")
)

// StageError 某个阶段的致命错误
type StageError struct {
	Stage   models.Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
