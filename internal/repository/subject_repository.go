package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"learnpilot/internal/model"
)

// SubjectRepository 定义了用户科目的持久化操作。
type SubjectRepository interface {
	// Upsert 按 (userID, key) 插入或更新名称。
	Upsert(userID uint, key, name string) (*model.UserSubject, error)
}

type subjectRepository struct {
	db *gorm.DB
}

// NewSubjectRepository 创建一个新的 SubjectRepository 实例。
func NewSubjectRepository(db *gorm.DB) SubjectRepository {
	return &subjectRepository{db: db}
}

func (r *subjectRepository) Upsert(userID uint, key, name string) (*model.UserSubject, error) {
	s := model.UserSubject{UserID: userID, Key: key, Name: name}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(&s).Error
	if err != nil {
		return nil, err
	}
	var out model.UserSubject
	if err := r.db.Where(&model.UserSubject{UserID: userID, Key: key}).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
