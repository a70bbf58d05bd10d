package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"x402-Dashboard/internal/activity"

	"github.com/go-sql-driver/mysql"
)

// duplicateEntry 是 MySQL 主键冲突的错误码。
const duplicateEntry = 1062

const insertActivitySQL = `INSERT INTO activity
    (id, kind, account, agent_address, tx_hash, status, detail, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const listActivitySQL = `SELECT id, kind, account, agent_address, tx_hash, status, detail, created_at
    FROM activity WHERE account = ? ORDER BY created_at DESC, id DESC LIMIT ?`

// ActivityRepository 使用 MySQL 存储活动记录，实现 activity.Journal。
type ActivityRepository struct {
	db *sql.DB
}

var _ activity.Journal = (*ActivityRepository)(nil)

// NewActivityRepository 创建连接池并执行迁移。
func NewActivityRepository(ctx context.Context, cfg Config) (*ActivityRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &ActivityRepository{db: db}, nil
}

// Record 写入一条活动记录，重复的 ID 视为已记录。
func (r *ActivityRepository) Record(ctx context.Context, entry activity.Entry) error {
	entry = activity.Normalize(entry, time.Now())
	_, err := r.db.ExecContext(ctx, insertActivitySQL,
		entry.ID,
		string(entry.Kind),
		entry.Account,
		strings.ToLower(entry.AgentAddress),
		entry.TxHash,
		string(entry.Status),
		entry.Detail,
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntry {
			return nil
		}
		return fmt.Errorf("写入活动记录失败: %w", err)
	}
	return nil
}

// ListByAccount 查询账户最近的活动记录。
func (r *ActivityRepository) ListByAccount(ctx context.Context, account string, limit int) ([]activity.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listActivitySQL, strings.ToLower(account), limit)
	if err != nil {
		return nil, fmt.Errorf("查询活动记录失败: %w", err)
	}
	defer rows.Close()

	entries := make([]activity.Entry, 0)
	for rows.Next() {
		var (
			entry     activity.Entry
			kind      string
			status    string
			detail    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.Account, &entry.AgentAddress, &entry.TxHash, &status, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("解析活动记录失败: %w", err)
		}
		entry.Kind = activity.Kind(kind)
		entry.Status = activity.Status(status)
		entry.Detail = detail.String
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历活动记录失败: %w", err)
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (r *ActivityRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
