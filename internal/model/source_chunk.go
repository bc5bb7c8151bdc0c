package model

// SourceChunk 对应 source_chunks 表，保存切分后的资料文本。
type SourceChunk struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SourceID     uint   `gorm:"not null;index"`
	ChunkIndex   int    `gorm:"not null"`
	TextContent  string `gorm:"type:text"`
	ModelVersion string `gorm:"type:varchar(64)"`
	UserID       uint   `gorm:"not null;index"`
}

func (SourceChunk) TableName() string {
	return "source_chunks"
}
