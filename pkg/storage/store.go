package storage

import (
	"context"

	"github.com/z-wentao/jkid/pkg/models"
)

// ArchiveRepository 已结束任务的归档存储
// 只用于报表查询，内容不会回填到 TaskStore
type ArchiveRepository interface {
	// SaveBatch 批量写入（按 task_id 覆盖）
	SaveBatch(ctx context.Context, tasks []models.Task) error

	// Recent 按创建时间倒序返回最近的归档任务
	Recent(ctx context.Context, limit int) ([]models.Task, error)

	// Close 关闭连接
	Close() error
}
