package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"learnpilot/internal/model"
	"learnpilot/pkg/log"
	"learnpilot/pkg/websearch"
	"learnpilot/pkg/youtube"
)

// WebSearchInput 是一次联网检索的参数。
type WebSearchInput struct {
	Query       string `json:"query"`
	MinChars    int    `json:"minChars"`
	Instruction string `json:"instruction"`
	Recency     string `json:"recency"`
	Model       string `json:"model"`
	ChatID      string `json:"chatId"`
}

// ExploreResult 同时包含网页答案和推荐视频。
type ExploreResult struct {
	Web    websearch.Result `json:"web"`
	Videos []youtube.Video  `json:"videos"`
}

// ResearchService 定义了联网检索与视频推荐。
type ResearchService interface {
	// WebSearch 给定 ChatID 时用聊天的路线图、最近消息和成绩做检索上下文，并追加一条 websearch 事件。
	WebSearch(ctx context.Context, userID uint, in WebSearchInput) (*websearch.Result, error)
	Videos(ctx context.Context, query string) ([]youtube.Video, error)
	// Explore 并发执行网页检索和视频检索。视频检索失败时返回空列表。
	Explore(ctx context.Context, userID uint, query string) (*ExploreResult, error)
}

type researchService struct {
	webClient   websearch.Client
	videos      youtube.Searcher
	chatService ChatService
}

// NewResearchService 创建一个新的 ResearchService 实例。
func NewResearchService(webClient websearch.Client, videos youtube.Searcher, chatService ChatService) ResearchService {
	return &researchService{webClient: webClient, videos: videos, chatService: chatService}
}

func (s *researchService) WebSearch(ctx context.Context, userID uint, in WebSearchInput) (*websearch.Result, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	params := websearch.Params{
		Query:       query,
		MinChars:    in.MinChars,
		Instruction: in.Instruction,
		Recency:     in.Recency,
		Model:       in.Model,
	}
	if in.ChatID != "" {
		chat, err := s.chatService.GetChat(ctx, userID, in.ChatID)
		if err != nil {
			return nil, err
		}
		meta := chat.MetaData()
		params.Metadata = map[string]interface{}{
			"chatTitle":       chat.Title,
			"roadmap":         meta.Roadmap,
			"lastMessages":    meta.LastMessages(6),
			"lastPerformance": meta.LastPerformance(5),
		}
	}

	log.Infof("[ResearchService] 联网检索, userID: %d, chatID: %s, query_len: %d", userID, in.ChatID, len(query))
	res, err := s.webClient.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	if in.ChatID != "" {
		event := model.Event{Type: "websearch", TS: nowMillis(), Data: map[string]interface{}{
			"query":   query,
			"sources": len(res.Sources),
			"chars":   len([]rune(res.Text)),
		}}
		if err := s.chatService.AppendEvents(ctx, userID, in.ChatID, []model.Event{event}); err != nil {
			log.Warnf("[ResearchService] 记录检索事件失败, chatID: %s, error: %v", in.ChatID, err)
		}
	}
	return &res, nil
}

func (s *researchService) Videos(ctx context.Context, query string) ([]youtube.Video, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	return s.videos.Search(ctx, query)
}

func (s *researchService) Explore(ctx context.Context, userID uint, query string) (*ExploreResult, error) {
	out := &ExploreResult{Videos: []youtube.Video{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.WebSearch(gctx, userID, WebSearchInput{Query: query})
		if err != nil {
			return err
		}
		out.Web = *res
		return nil
	})
	g.Go(func() error {
		videos, err := s.Videos(gctx, query)
		switch {
		case err == nil:
			out.Videos = videos
		case errors.Is(err, ErrInvalidInput):
			return err
		default:
			log.Warnf("[ResearchService] 视频检索失败, 忽略: %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
