package repository

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"learnpilot/internal/model"
)

// ErrStaleChat 表示聊天在读取之后已被其他写入者修改。
var ErrStaleChat = errors.New("chat was modified concurrently")

// ChatRepository 定义了聊天记录的持久化操作。所有查询都会排除已软删除的记录。
type ChatRepository interface {
	Create(chat *model.Chat) error
	// FindOwned 查找属于 userID 的聊天，不存在或不属于该用户时返回 gorm.ErrRecordNotFound。
	FindOwned(chatID string, userID uint) (*model.Chat, error)
	ListByUser(userID uint) ([]model.Chat, error)
	// UpdateMeta 以 version 做比较并交换，成功后 chat 的 Meta / Title / Version 同步更新。
	UpdateMeta(chat *model.Chat, meta model.ChatMeta, title string) error
	Rename(chatID string, userID uint, title string) (bool, error)
	SoftDelete(chatID string, userID uint) (bool, error)
	SetLastNode(chatID string, nodeID string) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

func (r *chatRepository) FindOwned(chatID string, userID uint) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) ListByUser(userID uint) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.Where("user_id = ?", userID).Order("updated_at desc").Find(&chats).Error
	return chats, err
}

func (r *chatRepository) UpdateMeta(chat *model.Chat, meta model.ChatMeta, title string) error {
	now := time.Now()
	res := r.db.Model(&model.Chat{}).
		Where("id = ? AND version = ?", chat.ID, chat.Version).
		Updates(map[string]interface{}{
			"meta":       datatypes.NewJSONType(meta),
			"title":      title,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleChat
	}
	chat.Meta = datatypes.NewJSONType(meta)
	chat.Title = title
	chat.Version++
	chat.UpdatedAt = now
	return nil
}

func (r *chatRepository) Rename(chatID string, userID uint, title string) (bool, error) {
	res := r.db.Model(&model.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{"title": title, "version": gorm.Expr("version + 1")})
	return res.RowsAffected > 0, res.Error
}

func (r *chatRepository) SoftDelete(chatID string, userID uint) (bool, error) {
	res := r.db.Where("id = ? AND user_id = ?", chatID, userID).Delete(&model.Chat{})
	return res.RowsAffected > 0, res.Error
}

func (r *chatRepository) SetLastNode(chatID string, nodeID string) error {
	return r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("last_node_id", nodeID).Error
}
