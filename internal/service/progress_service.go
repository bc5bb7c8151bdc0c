package service

import (
	"context"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
)

const recentPerformanceWindow = 10

// KindStats 是某一题型的统计。
type KindStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
}

// ProgressSummary 是单个聊天的练习进度。
type ProgressSummary struct {
	ChatID         string               `json:"chatId"`
	Total          int                  `json:"total"`
	MeanAccuracy   float64              `json:"meanAccuracy"`
	ByKind         map[string]KindStats `json:"byKind"`
	Recent         []model.PerfEntry    `json:"recent"`
	NextDifficulty string               `json:"nextDifficulty"`
}

// ChatProgress 是总览中的一行。
type ChatProgress struct {
	ChatID       string  `json:"chatId"`
	Title        string  `json:"title"`
	Total        int     `json:"total"`
	MeanAccuracy float64 `json:"meanAccuracy"`
}

// ProgressOverview 汇总用户全部聊天的练习情况。
type ProgressOverview struct {
	Chats        []ChatProgress `json:"chats"`
	Total        int            `json:"total"`
	MeanAccuracy float64        `json:"meanAccuracy"`
}

// ProgressService 定义了学习进度统计。
type ProgressService interface {
	Summary(ctx context.Context, userID uint, chatID string) (*ProgressSummary, error)
	Overview(ctx context.Context, userID uint) (*ProgressOverview, error)
}

type progressService struct {
	chatRepo        repository.ChatRepository
	chatService     ChatService
	practiceService PracticeService
}

// NewProgressService 创建一个新的 ProgressService 实例。
func NewProgressService(chatRepo repository.ChatRepository, chatService ChatService, practiceService PracticeService) ProgressService {
	return &progressService{chatRepo: chatRepo, chatService: chatService, practiceService: practiceService}
}

func (s *progressService) Summary(ctx context.Context, userID uint, chatID string) (*ProgressSummary, error) {
	chat, err := s.chatService.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	perf := chat.MetaData().Performance
	out := &ProgressSummary{
		ChatID: chatID,
		Total:  len(perf),
		ByKind: map[string]KindStats{},
		Recent: nonNil(chat.MetaData().LastPerformance(recentPerformanceWindow)),
	}
	sums := map[string]float64{}
	var total float64
	for _, p := range perf {
		st := out.ByKind[p.Kind]
		st.Count++
		out.ByKind[p.Kind] = st
		sums[p.Kind] += p.Accuracy
		total += p.Accuracy
	}
	for kind, st := range out.ByKind {
		st.Mean = sums[kind] / float64(st.Count)
		out.ByKind[kind] = st
	}
	if out.Total > 0 {
		out.MeanAccuracy = total / float64(out.Total)
		out.NextDifficulty = s.practiceService.SuggestDifficulty(meanOf(out.Recent))
	} else {
		out.NextDifficulty = DifficultySame
	}
	return out, nil
}

func (s *progressService) Overview(ctx context.Context, userID uint) (*ProgressOverview, error) {
	chats, err := s.chatRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	out := &ProgressOverview{Chats: make([]ChatProgress, 0, len(chats))}
	var sum float64
	for _, c := range chats {
		perf := c.MetaData().Performance
		if len(perf) == 0 {
			continue
		}
		mean := meanOf(perf)
		out.Chats = append(out.Chats, ChatProgress{ChatID: c.ID, Title: c.Title, Total: len(perf), MeanAccuracy: mean})
		out.Total += len(perf)
		sum += mean * float64(len(perf))
	}
	if out.Total > 0 {
		out.MeanAccuracy = sum / float64(out.Total)
	}
	return out, nil
}

func meanOf(entries []model.PerfEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		sum += e.Accuracy
	}
	return sum / float64(len(entries))
}
