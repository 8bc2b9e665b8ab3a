package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "DRaaS-Chain/internal/errors"
)

// MySQLConfig 描述 MySQL 支付日志的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 记录支付日志。
type MySQLStore struct {
	db *sql.DB
}

const journalColumns = `session_id, deployment_id, runtime, file_name, phase, progress, message, tx_hash, value_wei, error_code, created_at, updated_at`

// NewMySQLStore 连接数据库并执行内嵌的迁移脚本。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	store := &MySQLStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化支付日志表失败")
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	if parsed.Timeout == 0 {
		parsed.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(parsed)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL 连接器失败: %w", err)
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL %s: %w", parsed.Addr, err)
	}
	return db, nil
}

// Record 以会话 ID 为主键写入或覆盖日志。
func (s *MySQLStore) Record(ctx context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	now := time.Now().Unix()
	created := now
	if !entry.CreatedAt.IsZero() {
		created = entry.CreatedAt.Unix()
	}

	const stmt = `INSERT INTO payment_journal
    (session_id, deployment_id, runtime, file_name, phase, progress, message, tx_hash, value_wei, error_code, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE deployment_id = VALUES(deployment_id), phase = VALUES(phase), progress = VALUES(progress),
    message = VALUES(message), tx_hash = VALUES(tx_hash), value_wei = VALUES(value_wei), error_code = VALUES(error_code), updated_at = VALUES(updated_at)`

	if _, err := s.db.ExecContext(ctx, stmt,
		entry.SessionID,
		entry.DeploymentID,
		entry.Runtime,
		entry.FileName,
		entry.Phase,
		entry.Progress,
		entry.Message,
		entry.TxHash,
		entry.ValueWei,
		entry.ErrorCode,
		created,
		now,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入支付日志失败")
	}
	return nil
}

// Get 返回指定会话的日志。
func (s *MySQLStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+journalColumns+`
    FROM payment_journal WHERE session_id = ?`, sessionID)
	entry, err := scanEntry(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付日志失败")
	}
	return entry, nil
}

// List 按更新时间倒序返回最近的日志。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+journalColumns+`
    FROM payment_journal ORDER BY updated_at DESC, session_id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付日志失败")
	}
	return collect(rows)
}

// Unpaid 返回提交成功但未结清费用的会话。
func (s *MySQLStore) Unpaid(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+journalColumns+`
    FROM payment_journal WHERE deployment_id <> '' AND phase IN (?, ?, ?)
    ORDER BY updated_at DESC, session_id DESC`, unpaidPhases[0], unpaidPhases[1], unpaidPhases[2])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询未支付会话失败")
	}
	return collect(rows)
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry   Entry
		message sql.NullString
		created int64
		updated int64
	)
	if err := row.Scan(
		&entry.SessionID,
		&entry.DeploymentID,
		&entry.Runtime,
		&entry.FileName,
		&entry.Phase,
		&entry.Progress,
		&message,
		&entry.TxHash,
		&entry.ValueWei,
		&entry.ErrorCode,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	entry.Message = message.String
	entry.CreatedAt = time.Unix(created, 0).UTC()
	entry.UpdatedAt = time.Unix(updated, 0).UTC()
	return &entry, nil
}

func collect(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付日志失败")
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付日志失败")
	}
	return out, nil
}
