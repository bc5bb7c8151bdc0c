package repository

import (
	"gorm.io/gorm"

	"learnpilot/internal/model"
)

// SourceChunkRepository 定义了对 source_chunks 表的数据操作接口。
type SourceChunkRepository interface {
	// ReplaceForSource 删除资料已有的分块后批量写入新分块，保证重复处理时结果一致。
	ReplaceForSource(sourceID uint, chunks []*model.SourceChunk) error
	FindBySource(sourceID uint) ([]*model.SourceChunk, error)
}

type sourceChunkRepository struct {
	db *gorm.DB
}

// NewSourceChunkRepository 创建一个新的 SourceChunkRepository 实例。
func NewSourceChunkRepository(db *gorm.DB) SourceChunkRepository {
	return &sourceChunkRepository{db: db}
}

func (r *sourceChunkRepository) ReplaceForSource(sourceID uint, chunks []*model.SourceChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", sourceID).Delete(&model.SourceChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error // 每100条记录一批
	})
}

// FindBySource 查找资料的全部分块，按 chunk_index 排序。
func (r *sourceChunkRepository) FindBySource(sourceID uint) ([]*model.SourceChunk, error) {
	var chunks []*model.SourceChunk
	err := r.db.Where("source_id = ?", sourceID).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}
