package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/z-wentao/jkid/pkg/models"
)

// DefaultTTL 任务保留时长，从创建时间起算
const DefaultTTL = time.Hour

// TerminalSink 接收进入终态的任务快照
// 在锁外调用，实现方不应阻塞
type TerminalSink interface {
	Submit(task models.Task)
}

// TaskStore 进程内任务表
// 所有可变状态都在一把读写锁之后；锁内不做任何 I/O
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task

	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	sink   TerminalSink
	logger *slog.Logger
}

// Option TaskStore 配置项
type Option func(*TaskStore)

// WithTTL 设置保留时长
func WithTTL(ttl time.Duration) Option {
	return func(s *TaskStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) { s.now = now }
}

// WithIDGenerator 替换 ID 生成器
func WithIDGenerator(newID func() string) Option {
	return func(s *TaskStore) { s.newID = newID }
}

// WithTerminalSink 任务结束时把快照交给 sink（例如归档）
func WithTerminalSink(sink TerminalSink) Option {
	return func(s *TaskStore) { s.sink = sink }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(s *TaskStore) { s.logger = logger }
}

// NewTaskStore 创建任务存储
func NewTaskStore(opts ...Option) *TaskStore {
	s := &TaskStore{
		tasks:  make(map[string]*models.Task),
		ttl:    DefaultTTL,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 新建 Pending 任务并返回 ID
func (s *TaskStore) Create(sourceRef string) string {
	now := s.now()
	task := &models.Task{
		ID:        s.newID(),
		Filename:  filepath.Base(sourceRef),
		SourceRef: sourceRef,
		Status:    models.StatusPending,
		Progress:  models.NewStageProgress(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	return task.ID
}

// Get 返回任务快照
func (s *TaskStore) Get(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return task.Clone(), true
}

// Update 唯一的写入口
// 未知 ID 静默忽略（可能已被过期清理）；终态任务不再变化
func (s *TaskStore) Update(id string, u models.TaskUpdate) {
	var (
		snapshot models.Task
		finished bool
	)

	s.mu.Lock()
	task, ok := s.tasks[id]
	if ok {
		finished = s.apply(task, u)
		if finished && s.sink != nil {
			snapshot = task.Clone()
		}
	}
	s.mu.Unlock()

	if finished && s.sink != nil {
		s.sink.Submit(snapshot)
	}
}

// apply 在持锁状态下修改任务，返回本次是否进入终态
func (s *TaskStore) apply(t *models.Task, u models.TaskUpdate) bool {
	if t.Status.IsTerminal() {
		s.logger.Debug("忽略终态任务的更新", "task_id", t.ID, "status", t.Status, "requested", u.Status)
		return false
	}

	s.applyProgress(t, u.Progress)
	t.UpdatedAt = s.now()

	switch {
	case u.Error != "" || u.Status == models.StatusFailed:
		t.Status = models.StatusFailed
		t.Error = u.Error
		if t.Error == "" {
			t.Error = "任务处理失败"
		}
		t.Result = nil
		return true
	case u.Status == models.StatusCompleted:
		if u.Result != nil {
			t.Result = u.Result.Clone()
		} else {
			t.Result = &models.TaskResult{AudioURLs: map[string]string{}}
		}
		t.Status = models.StatusCompleted
		return true
	case u.Status != "" && models.CanTransition(t.Status, u.Status):
		t.Status = u.Status
	case u.Status != "" && u.Status != t.Status:
		s.logger.Warn("拒绝非法状态迁移", "task_id", t.ID, "from", t.Status, "to", u.Status)
	}
	return false
}

// applyProgress 按流水线顺序合并阶段进度
// 进度不回退；前一阶段未完成时后一阶段不能标记完成
func (s *TaskStore) applyProgress(t *models.Task, delta models.StageProgress) {
	if len(delta) == 0 {
		return
	}
	for i, stage := range models.StageOrder {
		state, ok := delta[stage]
		if !ok {
			continue
		}
		if t.Progress[stage].Covers(state) {
			continue
		}
		if state == models.StageCompleted && i > 0 && t.Progress[models.StageOrder[i-1]] != models.StageCompleted {
			s.logger.Warn("前序阶段未完成，忽略进度更新",
				"task_id", t.ID, "stage", stage, "previous", models.StageOrder[i-1])
			continue
		}
		t.Progress[stage] = state
	}
}

// SweepExpired 删除创建时间早于保留窗口的任务，返回删除数量
func (s *TaskStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if now.Sub(task.CreatedAt) > s.ttl {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// StartSweeper 周期性清理过期任务，ctx 取消后退出
func (s *TaskStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.SweepExpired(s.now()); n > 0 {
					s.logger.Info("🧹 清理过期任务", "removed", n)
				}
			}
		}
	}()
}

// List 按创建时间倒序返回所有任务快照
func (s *TaskStore) List() []models.Task {
	s.mu.RLock()
	tasks := make([]models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

// Len 当前任务数
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
