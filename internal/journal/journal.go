// internal/journal/journal.go
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// 单次 LLM 调用的结果
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
)

// Attempt 一次节点生成尝试的记录
type Attempt struct {
	ID         int64     `json:"id"`
	Project    string    `json:"project"`
	Coordinate string    `json:"coordinate"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal 基于 SQLite 的尝试日志
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）日志数据库并执行迁移
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: conn}, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Record 写入一条尝试记录
func (j *Journal) Record(ctx context.Context, a Attempt) error {
	if j == nil {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts(project, coordinate, attempt, outcome, error, latency_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Project, a.Coordinate, a.Attempt, a.Outcome, a.Error, a.LatencyMs, a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// List 按时间顺序返回项目最近的 limit 条记录，limit <= 0 表示全部
func (j *Journal) List(ctx context.Context, project string, limit int) ([]Attempt, error) {
	if j == nil {
		return []Attempt{}, nil
	}
	query := `SELECT id, project, coordinate, attempt, outcome, error, latency_ms, created_at FROM (
		SELECT * FROM attempts WHERE project = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var created string
		if err := rows.Scan(&a.ID, &a.Project, &a.Coordinate, &a.Attempt, &a.Outcome, &a.Error, &a.LatencyMs, &created); err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("attempt %d has invalid created_at %q: %w", a.ID, created, err)
		}
		a.CreatedAt = createdAt
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountByOutcome 统计项目各结果的次数
func (j *Journal) CountByOutcome(ctx context.Context, project string) (map[string]int, error) {
	counts := map[string]int{}
	if j == nil {
		return counts, nil
	}
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM attempts WHERE project = ? GROUP BY outcome`, project)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
