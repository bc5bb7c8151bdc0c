package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/log"
)

// maxMetaAttempts 是一次读-改-写在版本冲突时的最大尝试次数。
const maxMetaAttempts = 3

// CreateChatInput 是创建聊天的参数。
type CreateChatInput struct {
	Title       string              `json:"title"`
	Messages    []model.ChatMessage `json:"messages"`
	Roadmap     model.Roadmap       `json:"roadmap"`
	InitialMeta model.MetaPatch     `json:"initialMeta"`
}

// ChatSummary 是聊天列表中的一项。
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SnapshotInput 用客户端状态整体覆盖消息与路线图。
type SnapshotInput struct {
	ChatID        string              `json:"chatId"`
	Messages      []model.ChatMessage `json:"messages"`
	Roadmap       model.Roadmap       `json:"roadmap"`
	Meta          model.MetaPatch     `json:"meta"`
	TitleFallback string              `json:"titleFallback"`
}

// ChatSnapshot 是返回给客户端的聊天状态。
type ChatSnapshot struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Messages    []model.ChatMessage  `json:"messages"`
	Roadmap     model.Roadmap        `json:"roadmap"`
	History     []model.HistoryEntry `json:"history"`
	Performance []model.PerfEntry    `json:"performance"`
	LastNodeID  *string              `json:"lastNodeId"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	StartedAt   time.Time            `json:"startedAt"`
}

// TurnInput 是一次问答往返。Roadmap 未设置时保持原路线图。
type TurnInput struct {
	ChatID    string                 `json:"chatId"`
	UserMsg   model.ChatMessage      `json:"userMsg"`
	AIMsg     model.ChatMessage      `json:"aiMsg"`
	Roadmap   model.OptionalRoadmap  `json:"roadmap"`
	UIPatch   map[string]interface{} `json:"uiPatch"`
	MetaPatch model.MetaPatch        `json:"metaPatch"`
}

// ChatService 定义了聊天元数据的存取操作。所有写操作都以版本号做乐观并发控制。
type ChatService interface {
	CreateChat(ctx context.Context, userID uint, in CreateChatInput) (*model.Chat, error)
	ListChats(ctx context.Context, userID uint) ([]ChatSummary, error)
	GetChat(ctx context.Context, userID uint, chatID string) (*model.Chat, error)
	GetSnapshot(ctx context.Context, userID uint, chatID string) (*ChatSnapshot, error)
	SaveSnapshot(ctx context.Context, userID uint, in SnapshotInput) (*model.Chat, error)
	AppendTurn(ctx context.Context, userID uint, in TurnInput) (*model.Chat, error)
	// RecordPerformance 追加成绩记录，返回追加后的记录总数。
	RecordPerformance(ctx context.Context, userID uint, chatID string, entries []model.PerfEntry) (int, error)
	AppendEvents(ctx context.Context, userID uint, chatID string, events []model.Event) error
	// UpdateMeta 对聊天元数据应用任意补丁。
	UpdateMeta(ctx context.Context, userID uint, chatID string, patch model.MetaPatch) (*model.Chat, error)
	RenameChat(ctx context.Context, userID uint, chatID, title string) error
	DeleteChat(ctx context.Context, userID uint, chatID string) error
	SetLastNode(ctx context.Context, userID uint, chatID, nodeID string) error
}

type chatService struct {
	chatRepo repository.ChatRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository) ChatService {
	return &chatService{chatRepo: chatRepo}
}

func (s *chatService) CreateChat(ctx context.Context, userID uint, in CreateChatInput) (*model.Chat, error) {
	base := model.NewChatMeta()
	base.Messages = stampMessages(in.Messages)
	base.Roadmap = cleanRoadmap(in.Roadmap)
	base.Events = []model.Event{{Type: "createChat", TS: nowMillis()}}
	meta := model.MergeMeta(base, in.InitialMeta)

	title := strings.TrimSpace(in.Title)
	if title == "" {
		if first, ok := meta.FirstUserMessage(); ok {
			title = titleFrom(first)
		}
	}
	chat := &model.Chat{UserID: userID, Title: title, Meta: datatypes.NewJSONType(meta)}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, fmt.Errorf("创建聊天失败: %w", err)
	}
	log.Infof("[ChatService] 创建聊天, userID: %d, chatID: %s", userID, chat.ID)
	return chat, nil
}

func (s *chatService) ListChats(ctx context.Context, userID uint) ([]ChatSummary, error) {
	chats, err := s.chatRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatSummary{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: len(c.MetaData().Messages),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	return out, nil
}

func (s *chatService) GetChat(ctx context.Context, userID uint, chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindOwned(chatID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

func (s *chatService) GetSnapshot(ctx context.Context, userID uint, chatID string) (*ChatSnapshot, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	meta := chat.MetaData()
	return &ChatSnapshot{
		ID:          chat.ID,
		Title:       chat.Title,
		Messages:    nonNil(meta.Messages),
		Roadmap:     meta.Roadmap,
		History:     nonNil(meta.History),
		Performance: nonNil(meta.Performance),
		LastNodeID:  chat.LastNodeID,
		UpdatedAt:   chat.UpdatedAt,
		StartedAt:   chat.CreatedAt,
	}, nil
}

// SaveSnapshot 以客户端状态替换 messages 与 roadmap，其余列表保持追加语义。
func (s *chatService) SaveSnapshot(ctx context.Context, userID uint, in SnapshotInput) (*model.Chat, error) {
	messages := stampMessages(in.Messages)
	roadmap := cleanRoadmap(in.Roadmap)
	return s.mutate(ctx, userID, in.ChatID, func(chat *model.Chat, meta model.ChatMeta) (model.ChatMeta, string) {
		meta.Messages = nil
		meta.Roadmap = nil
		next := model.MergeMeta(meta, model.MetaPatch{Messages: messages, Roadmap: model.SetRoadmap(roadmap)})
		next = model.MergeMeta(next, in.Meta)
		title := chat.Title
		if title == "" {
			title = strings.TrimSpace(in.TitleFallback)
		}
		return next, title
	})
}

func (s *chatService) AppendTurn(ctx context.Context, userID uint, in TurnInput) (*model.Chat, error) {
	msgs := stampMessages([]model.ChatMessage{in.UserMsg, in.AIMsg})
	msgs[0].Type = model.MessageTypeUser
	msgs[1].Type = model.MessageTypeAI
	patch := model.MetaPatch{
		Messages: msgs,
		Roadmap:  in.Roadmap,
		UI:       in.UIPatch,
		Events: []model.Event{{
			Type: "appendTurn",
			TS:   nowMillis(),
			Data: map[string]interface{}{"len": utf8.RuneCountInString(in.UserMsg.Content)},
		}},
	}
	if patch.Roadmap.Set {
		patch.Roadmap.Value = cleanRoadmap(patch.Roadmap.Value)
	}
	return s.mutate(ctx, userID, in.ChatID, func(chat *model.Chat, meta model.ChatMeta) (model.ChatMeta, string) {
		next := model.MergeMeta(model.MergeMeta(meta, patch), in.MetaPatch)
		title := chat.Title
		if title == "" {
			if first, ok := next.FirstUserMessage(); ok {
				title = titleFrom(first)
			}
		}
		return next, title
	})
}

func (s *chatService) RecordPerformance(ctx context.Context, userID uint, chatID string, entries []model.PerfEntry) (int, error) {
	stamped := make([]model.PerfEntry, len(entries))
	for i, e := range entries {
		if e.TS == 0 {
			e.TS = nowMillis()
		}
		stamped[i] = e
	}
	chat, err := s.UpdateMeta(ctx, userID, chatID, model.MetaPatch{Performance: stamped})
	if err != nil {
		return 0, err
	}
	return len(chat.MetaData().Performance), nil
}

func (s *chatService) AppendEvents(ctx context.Context, userID uint, chatID string, events []model.Event) error {
	stamped := make([]model.Event, len(events))
	for i, e := range events {
		if e.TS == 0 {
			e.TS = nowMillis()
		}
		stamped[i] = e
	}
	_, err := s.UpdateMeta(ctx, userID, chatID, model.MetaPatch{Events: stamped})
	return err
}

func (s *chatService) UpdateMeta(ctx context.Context, userID uint, chatID string, patch model.MetaPatch) (*model.Chat, error) {
	return s.mutate(ctx, userID, chatID, func(chat *model.Chat, meta model.ChatMeta) (model.ChatMeta, string) {
		return model.MergeMeta(meta, patch), chat.Title
	})
}

func (s *chatService) RenameChat(ctx context.Context, userID uint, chatID, title string) error {
	ok, err := s.chatRepo.Rename(chatID, userID, strings.TrimSpace(title))
	if err != nil {
		return err
	}
	if !ok {
		return ErrChatNotFound
	}
	return nil
}

func (s *chatService) DeleteChat(ctx context.Context, userID uint, chatID string) error {
	ok, err := s.chatRepo.SoftDelete(chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChatNotFound
	}
	log.Infof("[ChatService] 软删除聊天, userID: %d, chatID: %s", userID, chatID)
	return nil
}

func (s *chatService) SetLastNode(ctx context.Context, userID uint, chatID, nodeID string) error {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.chatRepo.SetLastNode(chatID, nodeID)
}

// mutate 执行读-改-写。版本冲突时重新读取并重放同一变换，最多 maxMetaAttempts 次。
func (s *chatService) mutate(ctx context.Context, userID uint, chatID string, fn func(chat *model.Chat, meta model.ChatMeta) (model.ChatMeta, string)) (*model.Chat, error) {
	for attempt := 1; attempt <= maxMetaAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chat, err := s.GetChat(ctx, userID, chatID)
		if err != nil {
			return nil, err
		}
		meta, title := fn(chat, chat.MetaData())
		err = s.chatRepo.UpdateMeta(chat, meta, title)
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, repository.ErrStaleChat) {
			return nil, err
		}
		log.Warnf("[ChatService] 聊天版本冲突, chatID: %s, attempt: %d", chatID, attempt)
	}
	return nil, fmt.Errorf("update chat %s: %w", chatID, repository.ErrStaleChat)
}

// stampMessages 为缺少 id 或时间戳的消息补全字段，返回新切片。
func stampMessages(in []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, len(in))
	now := nowMillis()
	for i, m := range in {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp == 0 {
			m.Timestamp = now
		}
		out[i] = m
	}
	return out
}

// cleanRoadmap 过滤格式错误的条目，结果为空时返回 nil（即没有路线图）。
func cleanRoadmap(r model.Roadmap) model.Roadmap {
	clean := r.Sanitize()
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func titleFrom(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= 60 {
		return text
	}
	return string([]rune(text)[:60])
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
