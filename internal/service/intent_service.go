package service

import (
	"context"
	"encoding/json"

	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
)

// 意图类型
const (
	IntentRoadmap = "roadmap"
	IntentChat    = "chat"
)

// Intent 是一次分类结果。
type Intent struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// IntentService 判断用户输入是想要学习路线图还是普通问答。
type IntentService interface {
	// Classify 任何失败都返回 {chat, 0}，不会返回错误。
	Classify(ctx context.Context, prompt string) Intent
}

type intentService struct {
	llmClient llm.Client
}

// NewIntentService 创建一个新的 IntentService 实例。
func NewIntentService(llmClient llm.Client) IntentService {
	return &intentService{llmClient: llmClient}
}

const classifyInstruction = "You are a classifier. Output ONLY strict JSON with keys: type, confidence. " +
	`type = "roadmap" if the user asks for a study plan/learning roadmap (topics/subtopics), otherwise "chat". ` +
	"confidence is a number 0..1."

func (s *intentService) Classify(ctx context.Context, prompt string) Intent {
	fallback := Intent{Type: IntentChat, Confidence: 0}
	if !s.llmClient.Enabled() {
		return fallback
	}
	content := classifyInstruction + "\n\n" +
		"PROMPT:\n" + prompt + "\n\n" +
		"Roadmap examples: 'Create a roadmap on X', 'Give me a TOPIC/SUBTOPIC plan', 'Create a learning path'.\n" +
		"Chat examples: Q&A, explanations, summaries, conversation.\n\n" +
		`Return JSON like: {"type":"roadmap","confidence":0.92}`
	out, err := s.llmClient.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: content}}, &llm.GenerationParams{Temperature: llm.Float(0)})
	if err != nil {
		log.Warnf("[IntentService] 分类调用失败, 按普通问答处理: %v", err)
		return fallback
	}
	return parseIntent(out)
}

func parseIntent(text string) Intent {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), &parsed); err != nil {
		return Intent{Type: IntentChat}
	}
	intent := Intent{Type: IntentChat}
	if t, _ := parsed["type"].(string); t == IntentRoadmap {
		intent.Type = IntentRoadmap
	}
	if c, ok := parsed["confidence"].(float64); ok {
		intent.Confidence = c
	}
	return intent
}
