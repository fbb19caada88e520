package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteRepo 实现了 port.DedupStore 接口，默认的本地存储
type SQLiteRepo struct {
	db   *sql.DB
	path string
}

type migration struct {
	version     int
	description string
	stmt        string
}

// migrations 按版本号追加，不要修改已发布的条目
var migrations = []migration{
	{
		version:     1,
		description: "publication records",
		stmt: `
CREATE TABLE IF NOT EXISTS publication_records (
    repo_id      TEXT PRIMARY KEY NOT NULL,
    published_at INTEGER NOT NULL,
    post_id      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publication_records_published_at ON publication_records (published_at);`,
	},
}

// NewSQLiteRepo 打开（或创建）数据库文件并迁移表结构
func NewSQLiteRepo(path string, log *zap.SugaredLogger) (*SQLiteRepo, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "creating data directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// 只用一个连接，所有写入天然串行，pragma 也只需要设置一次
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL", // 发布记录不能丢
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to set pragma %q", pragma)
		}
	}

	if err := migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating schema")
	}

	return &SQLiteRepo{db: db, path: path}, nil
}

// migrate 用 PRAGMA user_version 记录已经执行过的迁移
func migrate(db *sql.DB, log *zap.SugaredLogger) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return errors.Wrap(err, "reading schema version")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		log.Infof("🗄️ 执行数据库迁移 %d: %s", m.version, m.description)

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin migration %d", m.version)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "migration %d (%s)", m.version, m.description)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %d", m.version)
		}

		// user_version 不能在事务里设置；DDL 是幂等的，中途崩溃重跑即可
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return errors.Wrapf(err, "setting version %d", m.version)
		}
	}
	return nil
}

func (r *SQLiteRepo) Has(ctx context.Context, repoID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM publication_records WHERE repo_id = ?)", repoID,
	).Scan(&exists)
	if err != nil {
		return false, common.WrapError(common.KindStore, "sqlite.has", err)
	}
	return exists == 1, nil
}

// Record 主键冲突时不写入，返回 ErrAlreadyRecorded
func (r *SQLiteRepo) Record(ctx context.Context, rec domain.PublicationRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO publication_records (repo_id, published_at, post_id)
		VALUES (?, ?, ?)
		ON CONFLICT (repo_id) DO NOTHING`,
		rec.RepoID, rec.PublishedAt.UTC().UnixNano(), rec.PostID,
	)
	if err != nil {
		return common.WrapError(common.KindStore, "sqlite.record", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return common.WrapError(common.KindStore, "sqlite.record", err)
	}
	if n == 0 {
		return common.ErrAlreadyRecorded
	}
	return nil
}

func (r *SQLiteRepo) Get(ctx context.Context, repoID string) (*domain.PublicationRecord, error) {
	var (
		rec       domain.PublicationRecord
		published int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT repo_id, published_at, post_id FROM publication_records WHERE repo_id = ?", repoID,
	).Scan(&rec.RepoID, &published, &rec.PostID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(common.KindStore, "sqlite.get", err)
	}
	rec.PublishedAt = time.Unix(0, published).UTC()
	return &rec, nil
}

func (r *SQLiteRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM publication_records WHERE published_at < ?", before.UTC().UnixNano(),
	)
	if err != nil {
		return 0, common.WrapError(common.KindStore, "sqlite.prune", err)
	}
	return result.RowsAffected()
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// Path 返回数据库文件路径
func (r *SQLiteRepo) Path() string {
	return r.path
}
