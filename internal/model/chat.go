package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chat 对应 chats 表。Meta 保存聚合元数据，Version 用于乐观并发控制。
type Chat struct {
	ID         string                       `gorm:"type:char(36);primaryKey" json:"id"`
	UserID     uint                         `gorm:"index;not null" json:"userId"`
	Title      string                       `gorm:"type:varchar(255)" json:"title"`
	Meta       datatypes.JSONType[ChatMeta] `json:"meta"`
	Version    int                          `gorm:"not null;default:1" json:"-"`
	LastNodeID *string                      `gorm:"type:char(36)" json:"lastNodeId"`
	CreatedAt  time.Time                    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time                    `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt  gorm.DeletedAt               `gorm:"index" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// MetaData 返回解码后的元数据。
func (c *Chat) MetaData() ChatMeta {
	return c.Meta.Data()
}
