// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 学习资料处理状态
const (
	SourcePending = "PENDING"
	SourceReady   = "READY"
	SourceFailed  = "FAILED"
)

// LearningSource 记录用户上传的学习资料（通常是 PDF）及其处理状态。
type LearningSource struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"userId"`
	ChatID      *string    `gorm:"type:char(36);index" json:"chatId"`
	FileHash    string     `gorm:"type:varchar(64);not null;index" json:"fileHash"`
	FileName    string     `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectName  string     `gorm:"type:varchar(512);not null" json:"-"`
	ContentType string     `gorm:"type:varchar(128)" json:"contentType"`
	TotalSize   int64      `gorm:"not null" json:"totalSize"`
	Status      string     `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	ChunkCount  int        `gorm:"not null;default:0" json:"chunkCount"`
	LastError   string     `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	ProcessedAt *time.Time `gorm:"default:null" json:"processedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (LearningSource) TableName() string {
	return "learning_sources"
}
