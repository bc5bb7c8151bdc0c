package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"learnpilot/internal/model"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
)

// TryExtractRoadmap 在文本中查找第一个 "[" 到最后一个 "]" 之间的 JSON 数组。
// 每个元素都必须是带字符串 name 的 TOPIC，其 subtopics 必须是 SUBTOPIC 数组，否则视为没有路线图。
func TryExtractRoadmap(text string) (model.Roadmap, bool) {
	first, last := strings.Index(text, "["), strings.LastIndex(text, "]")
	if first < 0 || last <= first {
		return nil, false
	}
	var elems []map[string]interface{}
	if err := json.Unmarshal([]byte(text[first:last+1]), &elems); err != nil {
		return nil, false
	}
	plan := make(model.Roadmap, 0, len(elems))
	for _, e := range elems {
		name, ok := e["name"].(string)
		if e["type"] != model.NodeTypeTopic || !ok {
			return nil, false
		}
		subs, ok := e["subtopics"].([]interface{})
		if !ok {
			return nil, false
		}
		topic := model.RoadmapTopic{Type: model.NodeTypeTopic, Name: name, Subtopics: make([]model.RoadmapSubtopic, 0, len(subs))}
		for _, raw := range subs {
			s, ok := raw.(map[string]interface{})
			if !ok {
				return nil, false
			}
			sname, ok := s["name"].(string)
			if s["type"] != model.NodeTypeSubtopic || !ok {
				return nil, false
			}
			content, _ := s["content"].(string)
			topic.Subtopics = append(topic.Subtopics, model.RoadmapSubtopic{Type: model.NodeTypeSubtopic, Name: sname, Content: content})
		}
		plan = append(plan, topic)
	}
	return plan, true
}

// StripRoadmapJSON 去掉文本中的路线图 JSON，保留前后的说明文字。
func StripRoadmapJSON(text string) string {
	first, last := strings.Index(text, "["), strings.LastIndex(text, "]")
	if first < 0 || last <= first {
		return text
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{strings.TrimSpace(text[:first]), strings.TrimSpace(text[last+1:])} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// LeadInForRoadmap 随机返回一句路线图开场白。
func LeadInForRoadmap(plan model.Roadmap) string {
	topics := len(plan)
	first := "Getting Started"
	if topics > 0 {
		first = plan[0].Name
	}
	variants := []string{
		fmt.Sprintf("Here’s a custom roadmap with **%d stages**. We’ll kick off at **%s**.", topics, first),
		fmt.Sprintf("I sketched a learning path (x%d). First stop: **%s**.", topics, first),
		fmt.Sprintf("Built a step-by-step plan for you. Starting at **%s** and expanding onward.", first),
		fmt.Sprintf("Mapped out your journey in %d chunks. Begin with **%s**.", topics, first),
		fmt.Sprintf("Roadmap ready! %d topics total; start at **%s**.", topics, first),
	}
	return variants[rand.IntN(len(variants))]
}

// DefaultSubtopicContent 是子主题缺少内容时的占位文本。
func DefaultSubtopicContent(name string) string {
	return fmt.Sprintf("Content to be learned for '%s'", name)
}

const roadmapSystemPrompt = "You are an assistant that designs learning roadmaps. " +
	"Return JSON only. The value of \"topics\" is an ARRAY of topic objects with exactly these keys:\n" +
	"  \"type\": \"TOPIC\",\n" +
	"  \"name\": \"Short topic name\",\n" +
	"  \"subtopics\": [ { \"type\": \"SUBTOPIC\", \"name\": \"Short subtopic name\", \"content\": \"2–4 sentences of clear, beginner-friendly explanation that includes (1) what it is, (2) one concrete example, and (3) why it matters.\" } ]\n" +
	"\nSTRICT RULES:\n" +
	"1) type MUST be 'TOPIC' for topics and 'SUBTOPIC' for subtopics.\n" +
	"2) Provide AT LEAST 5 topics; EACH topic MUST have AT LEAST 5 subtopics.\n" +
	"3) The 'content' MUST be plain text paragraphs (2–4 sentences, ~40–100 words). Do NOT use lists, bullets, code fences, emojis, or links unless asked.\n" +
	"4) Keep names concise (max ~60 chars). Keep each content focused, concrete, and practical.\n" +
	"5) Never include duplicate topics or subtopics within a topic.\n" +
	"6) Stay within the requested subject and audience level.\n"

var roadmapSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["topics"],
  "properties": {
    "topics": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["type", "name", "subtopics"],
        "properties": {
          "type": {"type": "string", "enum": ["TOPIC"]},
          "name": {"type": "string"},
          "subtopics": {
            "type": "array",
            "items": {
              "type": "object",
              "additionalProperties": false,
              "required": ["type", "name", "content"],
              "properties": {
                "type": {"type": "string", "enum": ["SUBTOPIC"]},
                "name": {"type": "string"},
                "content": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`)

// RoadmapGenerator 使用模型生成路线图。
type RoadmapGenerator interface {
	GenerateRoadmap(ctx context.Context, subject, contextText string) (model.Roadmap, error)
}

type roadmapGenerator struct {
	llmClient llm.Client
}

// NewRoadmapGenerator 创建一个新的 RoadmapGenerator 实例。
func NewRoadmapGenerator(llmClient llm.Client) RoadmapGenerator {
	return &roadmapGenerator{llmClient: llmClient}
}

// GenerateRoadmap 生成并清洗路线图，缺少内容的子主题填充占位文本。
func (g *roadmapGenerator) GenerateRoadmap(ctx context.Context, subject, contextText string) (model.Roadmap, error) {
	if !g.llmClient.Enabled() {
		return nil, llm.ErrNotConfigured
	}
	user := fmt.Sprintf("Subject: %s\n\nContext (optional):\n%s\n\nReturn an ARRAY of topic objects only.", subject, contextText)
	out, err := g.llmClient.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: roadmapSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	}, &llm.GenerationParams{Temperature: llm.Float(0.2), MaxTokens: llm.Int(2400)}, llm.JSONSchema{Name: "roadmap", Schema: roadmapSchema})
	if err != nil {
		return nil, fmt.Errorf("generate roadmap: %w", err)
	}

	plan, ok := decodeRoadmap(out)
	if !ok {
		log.Warnf("[RoadmapGenerator] 模型输出无法解析为路线图, subject: %s", subject)
		return nil, ErrInvalidPlan
	}
	for i := range plan {
		for j := range plan[i].Subtopics {
			if strings.TrimSpace(plan[i].Subtopics[j].Content) == "" {
				plan[i].Subtopics[j].Content = DefaultSubtopicContent(plan[i].Subtopics[j].Name)
			}
		}
	}
	return plan, nil
}

// decodeRoadmap 接受 {"topics": [...]} 或直接的数组。
func decodeRoadmap(text string) (model.Roadmap, bool) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var wrapped struct {
		Topics json.RawMessage `json:"topics"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && len(wrapped.Topics) > 0 {
		raw = string(wrapped.Topics)
	}
	plan, ok := model.SanitizeRoadmap([]byte(raw))
	if !ok || len(plan) == 0 {
		return nil, false
	}
	return plan, true
}
