package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/z-wentao/jkid/pkg/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLArchive 基于 database/sql 的归档存储，支持 PostgreSQL 和 SQLite
type SQLArchive struct {
	db     *sql.DB
	driver string
}

// OpenSQLArchive 打开数据库并执行迁移
func OpenSQLArchive(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLArchive, error) {
	var dialect string
	switch driver {
	case DriverPostgres:
		dialect = "postgres"
	case DriverSQLite:
		dialect = "sqlite3"
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if driver == DriverPostgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
	}

	goose.SetLogger(&gooseLogger{logger: logger})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置迁移方言失败: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("执行数据库迁移失败: %w", err)
	}

	return &SQLArchive{db: db, driver: driver}, nil
}

// SaveBatch 在一个事务内 UPSERT 一批任务
func (s *SQLArchive) SaveBatch(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
    INSERT INTO task_archive (
    task_id, filename, source_ref, status, progress, result, error, created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (task_id)
    DO UPDATE SET
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    result = EXCLUDED.result,
    error = EXCLUDED.error,
    updated_at = EXCLUDED.updated_at
    `))
	if err != nil {
		return fmt.Errorf("预编译语句失败: %w", err)
	}
	defer stmt.Close()

	for _, task := range tasks {
		progressJSON, err := json.Marshal(task.Progress)
		if err != nil {
			return fmt.Errorf("序列化 progress 失败: %w", err)
		}

		var result sql.NullString
		if task.Result != nil {
			data, err := json.Marshal(task.Result)
			if err != nil {
				return fmt.Errorf("序列化 result 失败: %w", err)
			}
			result = sql.NullString{String: string(data), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			task.ID,
			task.Filename,
			task.SourceRef,
			string(task.Status),
			string(progressJSON),
			result,
			sql.NullString{String: task.Error, Valid: task.Error != ""},
			task.CreatedAt.UnixMilli(),
			task.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("写入任务 %s 失败: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// Recent 最近归档的任务
func (s *SQLArchive) Recent(ctx context.Context, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
    SELECT task_id, filename, source_ref, status, progress, result, error, created_at, updated_at
    FROM task_archive
    ORDER BY created_at DESC, task_id
    LIMIT ?
    `), limit)
	if err != nil {
		return nil, fmt.Errorf("查询归档失败: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0, limit)
	for rows.Next() {
		var (
			task                 models.Task
			status, progressJSON string
			result, errMsg       sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&task.ID, &task.Filename, &task.SourceRef, &status, &progressJSON,
			&result, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("读取归档记录失败: %w", err)
		}

		task.Status = models.TaskStatus(status)
		task.CreatedAt = time.UnixMilli(createdAt)
		task.UpdatedAt = time.UnixMilli(updatedAt)
		task.Error = errMsg.String
		if err := json.Unmarshal([]byte(progressJSON), &task.Progress); err != nil {
			return nil, fmt.Errorf("反序列化 progress 失败: %w", err)
		}
		if result.Valid {
			task.Result = &models.TaskResult{}
			if err := json.Unmarshal([]byte(result.String), task.Result); err != nil {
				return nil, fmt.Errorf("反序列化 result 失败: %w", err)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Close 关闭数据库
func (s *SQLArchive) Close() error {
	return s.db.Close()
}

// rebind 把 ? 占位符换成 PostgreSQL 的 $n
func (s *SQLArchive) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// gooseLogger 把 goose 的日志转到 slog
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.log().Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf 不退出进程，错误由 goose.Up 的返回值带回
func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log().Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *gooseLogger) log() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}
