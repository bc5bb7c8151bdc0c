package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 学习路径状态
const (
	PathwayDraft     = "DRAFT"
	PathwayActive    = "ACTIVE"
	PathwayCompleted = "COMPLETED"
	PathwayArchived  = "ARCHIVED"
)

// ValidPathwayStatus 判断状态值是否合法。
func ValidPathwayStatus(s string) bool {
	switch s {
	case PathwayDraft, PathwayActive, PathwayCompleted, PathwayArchived:
		return true
	}
	return false
}

// 节点内容类型
const (
	ContentKindText  = "TEXT"
	ContentKindQA    = "QA"
	ContentKindStudy = "STUDY"
)

// Pathway 是由路线图持久化得到的学习路径。
type Pathway struct {
	ID         string         `gorm:"type:char(36);primaryKey" json:"id"`
	UserID     uint           `gorm:"index;not null" json:"userId"`
	ChatID     *string        `gorm:"type:char(36);index" json:"chatId"`
	Title      string         `gorm:"type:varchar(255);not null" json:"title"`
	Status     string         `gorm:"type:varchar(16);not null;default:DRAFT" json:"status"`
	PlanSpec   datatypes.JSON `json:"planSpec"`
	RootNodeID *string        `gorm:"type:char(36)" json:"rootNodeId"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Pathway) TableName() string {
	return "pathways"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (p *Pathway) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PathNode 是学习路径树中的节点。OrderIndex 是兄弟节点的权威顺序，
// NextID 是对同一顺序的冗余链表缓存。
type PathNode struct {
	ID         string            `gorm:"type:char(36);primaryKey" json:"id"`
	PathwayID  string            `gorm:"type:char(36);index;not null" json:"pathwayId"`
	ParentID   *string           `gorm:"type:char(36);index" json:"parentId"`
	NextID     *string           `gorm:"type:char(36)" json:"nextId"`
	Type       string            `gorm:"type:varchar(16);not null" json:"type"`
	Title      string            `gorm:"type:varchar(255);not null" json:"title"`
	OrderIndex int               `gorm:"not null;default:0" json:"orderIndex"`
	Contents   []PathNodeContent `gorm:"foreignKey:NodeID" json:"contents,omitempty"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PathNode) TableName() string {
	return "path_nodes"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (n *PathNode) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// PathNodeContent 是挂在节点上的学习内容。
type PathNodeContent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	NodeID     string    `gorm:"type:char(36);index;not null" json:"nodeId"`
	Kind       string    `gorm:"type:varchar(16);not null" json:"kind"`
	Label      string    `gorm:"type:varchar(64)" json:"label"`
	Text       string    `gorm:"type:text" json:"text"`
	OrderIndex int       `gorm:"not null;default:0" json:"orderIndex"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PathNodeContent) TableName() string {
	return "path_node_contents"
}

// UserSubject 记录用户学习的科目，(UserID, Key) 唯一。
type UserSubject struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_subject_key" json:"userId"`
	Key       string    `gorm:"type:varchar(191);not null;uniqueIndex:idx_user_subject_key" json:"key"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UserSubject) TableName() string {
	return "user_subjects"
}

// PathTreeNode 是按 OrderIndex 组装的只读树视图。
type PathTreeNode struct {
	PathNode
	Children []*PathTreeNode `json:"children"`
}
