package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrEmptyIP 主机 IP 为空
var ErrEmptyIP = errors.New("ip_address required")

// querier 同时由 *sql.DB 和 *sql.Tx 实现，主机/模型操作只依赖它
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store 主机与模型清单的持久化层
type Store struct {
	db *sql.DB
}

// Open 打开（或创建）SQLite 数据库并初始化表结构
func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("database path required")
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			// 如果无权限（如开发机），自动降级到临时目录
			fallback := filepath.Join(os.TempDir(), "ollama-compass", filepath.Base(dbPath))
			if err2 := os.MkdirAll(filepath.Dir(fallback), 0755); err2 != nil {
				return nil, err
			}
			dbPath = fallback
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, err
	}
	// SQLite 单写者；只保留一个连接，:memory: 库也因此在整个进程内共享
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if dbPath != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode=WAL;")
		_, _ = db.Exec("PRAGMA synchronous=NORMAL;")
	}

	s := New(db)
	if err := s.CreateDatabase(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New 包装一个已打开的连接；不会建表，调用方需自行调用 CreateDatabase
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接
func (s *Store) DB() *sql.DB { return s.db }

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateDatabase 创建 hosts / models 表（可重复调用）
func (s *Store) CreateDatabase() error {
	hostsTable := `
	CREATE TABLE IF NOT EXISTS hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip_address TEXT UNIQUE NOT NULL,
		performance TEXT,
		is_alive INTEGER DEFAULT 1,
		first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	// 不使用 ON DELETE CASCADE：模型清单由 ReplaceModels 显式清空再写入
	modelsTable := `
	CREATE TABLE IF NOT EXISTS models (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER NOT NULL,
		name TEXT,
		modified_at TEXT,
		parameter_size TEXT,
		quantization_level TEXT,
		scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (host_id) REFERENCES hosts(id)
	);`

	modelsIndex := `CREATE INDEX IF NOT EXISTS idx_models_host_id ON models(host_id);`

	for _, stmt := range []string{hostsTable, modelsTable, modelsIndex} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	// 轻量迁移：旧库补字段
	if err := s.ensureColumn("hosts", "first_seen", "DATETIME"); err != nil {
		return err
	}
	if err := s.ensureColumn("hosts", "last_seen", "DATETIME"); err != nil {
		return err
	}
	if err := s.ensureColumn("models", "scanned_at", "DATETIME"); err != nil {
		return err
	}
	return nil
}

func (s *Store) ensureColumn(table, col, colType string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, col) {
			found = true
		}
	}
	// 单连接：ALTER 之前必须先释放游标
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, colType)); err != nil {
		return fmt.Errorf("migrate %s.%s: %w", table, col, err)
	}
	return nil
}

// Tx 事务内的主机/模型操作句柄
type Tx struct {
	tx *sql.Tx
}

// WithTx 在一个事务中执行 fn；fn 返回 nil 时提交，返回错误或 panic 时回滚
func (s *Store) WithTx(fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
