package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"learnpilot/internal/model"
)

// SourceRepository 接口定义了学习资料相关的数据持久化操作。
type SourceRepository interface {
	Create(source *model.LearningSource) error
	FindByID(id uint) (*model.LearningSource, error)
	FindOwned(id, userID uint) (*model.LearningSource, error)
	FindByHash(fileHash string, userID uint) (*model.LearningSource, error)
	ListByUser(userID uint) ([]model.LearningSource, error)
	FindBatchByIDs(ids []uint) ([]model.LearningSource, error)
	MarkReady(id uint, chunkCount int) error
	MarkFailed(id uint, reason string) error
	// Requeue 把资料重置为 PENDING，并替换对象名与文件元数据，以便重新处理。
	Requeue(source *model.LearningSource) error
	// Delete 删除资料记录及其全部分块。
	Delete(id, userID uint) error
}

// sourceRepository 是 SourceRepository 接口的 GORM 实现。
type sourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository 创建一个新的 SourceRepository 实例。
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db}
}

func (r *sourceRepository) Create(source *model.LearningSource) error {
	return r.db.Create(source).Error
}

func (r *sourceRepository) FindByID(id uint) (*model.LearningSource, error) {
	var s model.LearningSource
	if err := r.db.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sourceRepository) FindOwned(id, userID uint) (*model.LearningSource, error) {
	var s model.LearningSource
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByHash 根据文件哈希和用户 ID 检索资料记录。
func (r *sourceRepository) FindByHash(fileHash string, userID uint) (*model.LearningSource, error) {
	var s model.LearningSource
	if err := r.db.Where("file_hash = ? AND user_id = ?", fileHash, userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sourceRepository) ListByUser(userID uint) ([]model.LearningSource, error) {
	var list []model.LearningSource
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&list).Error
	return list, err
}

// FindBatchByIDs 批量查询资料，用于为检索结果补全文件名。
func (r *sourceRepository) FindBatchByIDs(ids []uint) ([]model.LearningSource, error) {
	var list []model.LearningSource
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&list).Error
	return list, err
}

func (r *sourceRepository) MarkReady(id uint, chunkCount int) error {
	now := time.Now()
	return r.db.Model(&model.LearningSource{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       model.SourceReady,
		"chunk_count":  chunkCount,
		"last_error":   "",
		"processed_at": &now,
	}).Error
}

func (r *sourceRepository) MarkFailed(id uint, reason string) error {
	return r.db.Model(&model.LearningSource{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     model.SourceFailed,
		"last_error": reason,
	}).Error
}

func (r *sourceRepository) Requeue(source *model.LearningSource) error {
	source.Status = model.SourcePending
	source.LastError = ""
	return r.db.Model(&model.LearningSource{}).Where("id = ?", source.ID).Updates(map[string]interface{}{
		"status":       model.SourcePending,
		"last_error":   "",
		"object_name":  source.ObjectName,
		"file_name":    source.FileName,
		"content_type": source.ContentType,
		"chat_id":      source.ChatID,
	}).Error
}

func (r *sourceRepository) Delete(id, userID uint) error {
	var errs []error
	if err := r.db.Where("source_id = ?", id).Delete(&model.SourceChunk{}).Error; err != nil {
		errs = append(errs, err)
	}
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.LearningSource{}).Error; err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("删除资料记录部分失败（id=%d, userID=%d）: %v", id, userID, errors.Join(errs...))
	}
	return nil
}
