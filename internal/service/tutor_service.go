package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
)

const (
	tutorHistoryWindow = 10
	tutorExcerptTopK   = 5
)

const tutorSystemPrompt = "You are an expert teacher. Use the full conversation history below, " +
	"but give **highest priority to the most recent user query** when answering. " +
	"If there are conflicts, resolve them in favor of the latest user input. " +
	"Answer clearly and in detail, writing at least 3 paragraphs. " +
	"Do NOT output JSON or code unless explicitly asked."

// TutorService 定义了流式辅导的接口。
type TutorService interface {
	// StreamResponse 处理一次提问并把分块写入 w，返回本轮所属的聊天 ID。
	// chatID 为空时新建聊天。
	StreamResponse(ctx context.Context, userID uint, chatID, prompt string, w llm.MessageWriter, shouldStop func() bool) (string, error)
}

type tutorService struct {
	chatService      ChatService
	intentService    IntentService
	roadmapGenerator RoadmapGenerator
	searchService    SearchService
	llmClient        llm.Client
}

// NewTutorService 创建一个新的 TutorService 实例。
func NewTutorService(chatService ChatService, intentService IntentService, roadmapGenerator RoadmapGenerator, searchService SearchService, llmClient llm.Client) TutorService {
	return &tutorService{
		chatService:      chatService,
		intentService:    intentService,
		roadmapGenerator: roadmapGenerator,
		searchService:    searchService,
		llmClient:        llmClient,
	}
}

// StreamResponse 先分类意图，路线图请求生成路线图，其余请求基于资料片段和最近消息流式作答。
func (s *tutorService) StreamResponse(ctx context.Context, userID uint, chatID, prompt string, w llm.MessageWriter, shouldStop func() bool) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return chatID, fmt.Errorf("%w: empty prompt", ErrInvalidInput)
	}

	// 1. 定位或新建聊天
	var meta model.ChatMeta
	if chatID == "" {
		chat, err := s.chatService.CreateChat(ctx, userID, CreateChatInput{Title: titleFrom(prompt)})
		if err != nil {
			return "", err
		}
		chatID = chat.ID
		meta = chat.MetaData()
		if err := writeFrame(w, map[string]interface{}{"chatId": chatID}); err != nil {
			return chatID, err
		}
	} else {
		chat, err := s.chatService.GetChat(ctx, userID, chatID)
		if err != nil {
			return chatID, err
		}
		meta = chat.MetaData()
	}

	// 2. 检索用户资料
	excerpts, err := s.searchService.HybridSearch(ctx, userID, prompt, tutorExcerptTopK)
	if err != nil {
		log.Warnf("[TutorService] 检索资料失败, 不带资料继续: %v", err)
		excerpts = nil
	}
	contextText := excerptContext(excerpts)

	// 3. 分类并生成回答
	interceptor := &wsWriterInterceptor{conn: w, writer: &strings.Builder{}, shouldStop: shouldStop}
	roadmap := model.OptionalRoadmap{}
	intent := s.intentService.Classify(ctx, prompt)
	log.Infof("[TutorService] 步骤1: 意图分类完成, chatID: %s, intent: %s, confidence: %.2f", chatID, intent.Type, intent.Confidence)

	if intent.Type == IntentRoadmap {
		plan, err := s.roadmapGenerator.GenerateRoadmap(ctx, prompt, contextText)
		if err == nil {
			log.Infof("[TutorService] 步骤2: 路线图生成完成, topics: %d", len(plan))
			if err := writeFrame(w, map[string]interface{}{"roadmap": plan}); err != nil {
				return chatID, err
			}
			if err := interceptor.WriteMessage(websocket.TextMessage, []byte(LeadInForRoadmap(plan))); err != nil {
				return chatID, err
			}
			roadmap = model.SetRoadmap(plan)
		} else {
			log.Warnf("[TutorService] 路线图生成失败, 改为普通回答: %v", err)
			intent.Type = IntentChat
		}
	}
	if intent.Type != IntentRoadmap {
		messages := s.composeMessages(s.buildSystemMessage(contextText), meta.LastMessages(tutorHistoryWindow), prompt)
		if err := s.llmClient.StreamChatMessages(ctx, messages, s.buildGenerationParams(), interceptor); err != nil {
			return chatID, err
		}
		if plan, ok := TryExtractRoadmap(interceptor.writer.String()); ok && len(plan) > 0 {
			if err := writeFrame(w, map[string]interface{}{"roadmap": plan}); err != nil {
				return chatID, err
			}
			roadmap = model.SetRoadmap(plan)
		}
	}

	// 4. 发送完成通知并保存本轮
	sendCompletion(w)
	answer := interceptor.writer.String()
	if roadmap.Set {
		if stripped := StripRoadmapJSON(answer); stripped != "" {
			answer = stripped
		}
	}
	if answer == "" {
		return chatID, nil
	}
	// 使用后台上下文，因为即使原始请求被取消，我们也希望保存成功生成的答案
	_, err = s.chatService.AppendTurn(context.Background(), userID, TurnInput{
		ChatID:  chatID,
		UserMsg: model.ChatMessage{Content: prompt},
		AIMsg:   model.ChatMessage{Content: answer},
		Roadmap: roadmap,
		MetaPatch: model.MetaPatch{
			History: []model.HistoryEntry{{TS: nowMillis(), User: prompt, AI: answer}},
		},
	})
	if err != nil {
		// 只记录错误，不返回给客户端，因为流式响应已经成功
		log.Errorf("[TutorService] 保存对话失败, chatID: %s, error: %v", chatID, err)
	}
	return chatID, nil
}

func (s *tutorService) buildSystemMessage(contextText string) string {
	prompt := config.Conf.LLM.Prompt
	refStart, refEnd, noRes := prompt.RefStart, prompt.RefEnd, prompt.NoResultText
	if refStart == "" {
		refStart = "<<REF>>"
	}
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	if noRes == "" {
		noRes = "(no matching learning sources for this turn)"
	}
	var sys strings.Builder
	sys.WriteString(tutorSystemPrompt)
	sys.WriteString("\n\n")
	if prompt.Rules != "" {
		sys.WriteString(prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *tutorService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemMsg})
	for _, m := range history {
		role := llm.RoleUser
		if m.Type == model.MessageTypeAI {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userInput})
}

func (s *tutorService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	gen := config.Conf.LLM.Generation
	if gen.Temperature != 0 {
		gp.Temperature = llm.Float(gen.Temperature)
	}
	if gen.TopP != 0 {
		gp.TopP = llm.Float(gen.TopP)
	}
	if gen.MaxTokens != 0 {
		gp.MaxTokens = llm.Int(gen.MaxTokens)
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

// wsWriterInterceptor 包装 websocket 写入，用于捕获完整答案。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	return writeFrame(w.conn, map[string]string{"chunk": string(data)})
}

func writeFrame(w llm.MessageWriter, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(w llm.MessageWriter) {
	now := time.Now()
	_ = writeFrame(w, map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}
