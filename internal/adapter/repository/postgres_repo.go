package repository

import (
	"context"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PostgresRepo 实现了 port.DedupStore 接口
type PostgresRepo struct {
	db *gorm.DB
}

// NewPostgresRepo 初始化数据库连接并自动迁移表结构
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	// 1. 连接数据库
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "连接数据库失败")
	}

	// 2. 自动迁移，创建 publication_records 表
	if err := db.AutoMigrate(&domain.PublicationRecord{}); err != nil {
		return nil, errors.Wrap(err, "数据库迁移失败")
	}

	return &PostgresRepo{db: db}, nil
}

// Has 检查项目是否已经发布过
func (r *PostgresRepo) Has(ctx context.Context, repoID string) (bool, error) {
	var count int64
	// SELECT count(*) FROM publication_records WHERE repo_id = ?
	err := r.db.WithContext(ctx).Model(&domain.PublicationRecord{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return false, common.WrapError(common.KindStore, "postgres.has", err)
	}
	return count > 0, nil
}

// Record 写入发布记录，主键冲突时什么都不写并返回 ErrAlreadyRecorded
func (r *PostgresRepo) Record(ctx context.Context, rec domain.PublicationRecord) error {
	rec.PublishedAt = rec.PublishedAt.UTC()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if result.Error != nil {
		return common.WrapError(common.KindStore, "postgres.record", result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrAlreadyRecorded
	}
	return nil
}

// Get 查询单条记录，不存在时返回 nil, nil
func (r *PostgresRepo) Get(ctx context.Context, repoID string) (*domain.PublicationRecord, error) {
	var rec domain.PublicationRecord
	err := r.db.WithContext(ctx).Where("repo_id = ?", repoID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(common.KindStore, "postgres.get", err)
	}
	return &rec, nil
}

// Prune 删除 before 之前发布的记录
func (r *PostgresRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("published_at < ?", before.UTC()).
		Delete(&domain.PublicationRecord{})
	if result.Error != nil {
		return 0, common.WrapError(common.KindStore, "postgres.prune", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *PostgresRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
