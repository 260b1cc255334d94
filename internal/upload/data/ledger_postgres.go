package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lk2023060901/resumable-upload/internal/pkg/database"
	"github.com/lk2023060901/resumable-upload/internal/upload/biz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UploadRecordPO 上传记录数据库模型
type UploadRecordPO struct {
	Identity  string    `gorm:"type:text;primarykey"`
	State     string    `gorm:"size:32;not null;index:idx_upload_records_state"`
	Payload   string    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UploadRecordPO) TableName() string {
	return "upload_records"
}

// PostgresLedger 基于 PostgreSQL 的上传记录账本
type PostgresLedger struct {
	db *gorm.DB
}

// NewPostgresLedger 创建 PostgreSQL 账本
func NewPostgresLedger(db *gorm.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Get 读取记录
func (l *PostgresLedger) Get(ctx context.Context, key string) (*biz.UploadRecord, error) {
	var po UploadRecordPO
	err := l.db.WithContext(ctx).Where("identity = ?", key).Take(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrRecordNotFound
		}
		return nil, err
	}

	var rec biz.UploadRecord
	if err := json.Unmarshal([]byte(po.Payload), &rec); err != nil {
		return nil, fmt.Errorf("decode upload record %q: %w", key, err)
	}
	if rec.Parts == nil {
		rec.Parts = make([]biz.Part, 0, rec.TotalChunks)
	}
	return &rec, nil
}

// Set 插入或覆盖记录
func (l *PostgresLedger) Set(ctx context.Context, key string, rec *biz.UploadRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode upload record %q: %w", key, err)
	}

	po := &UploadRecordPO{
		Identity:  key,
		State:     rec.State.String(),
		Payload:   string(payload),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "payload", "updated_at"}),
	}).Create(po).Error
}

// Delete 删除记录
func (l *PostgresLedger) Delete(ctx context.Context, key string) error {
	return l.db.WithContext(ctx).Where("identity = ?", key).Delete(&UploadRecordPO{}).Error
}

// ListStale 按更新时间升序返回 cutoff 之前未更新的记录
func (l *PostgresLedger) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*biz.UploadRecord, error) {
	var pos []UploadRecordPO
	err := l.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&pos).Error
	if err != nil {
		return nil, err
	}

	records := make([]*biz.UploadRecord, 0, len(pos))
	for _, po := range pos {
		var rec biz.UploadRecord
		if err := json.Unmarshal([]byte(po.Payload), &rec); err != nil {
			return nil, fmt.Errorf("decode upload record %q: %w", po.Identity, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
