package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"learnpilot/internal/model"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
)

const (
	minNodeItems    = 6
	rawItemRuneCap  = 3000
	nodeContentTemp = 0.9
	nodeContentMax  = 2400
)

const nodeContentSystemPrompt = "You are an assistant that MUST output only valid JSON (no markdown, no explanations). " +
	"Output a JSON ARRAY. Each array element must be an OBJECT with exactly these keys:\n" +
	"  \"type\": \"QA\" or \"STUDY\",\n" +
	"  \"content\": \"detailed learning content for this subtopic\"\n\n" +
	"Rules:\n" +
	"1) Make the content sound like a teacher; one detailed paragraph per point with real world examples.\n" +
	"2) STUDY items explain key concepts. QA items contain a question followed by its answer.\n" +
	"3) Give code snippets whenever it is a computer science topic.\n" +
	"4) Give at least %d items in total and at least 2 QA items.\n" +
	"5) The top-level value MUST be an ARRAY even if it contains one element.\n"

// NodeItem 是模型返回的一条学习条目。
type NodeItem struct {
	Kind    string `json:"type"`
	Content string `json:"content"`
}

// GenerateSubtopicItems 为一个子主题生成学习条目，contextText 可以为空。
func GenerateSubtopicItems(ctx context.Context, llmClient llm.Client, subtopic, contextText string) ([]NodeItem, error) {
	if !llmClient.Enabled() {
		return nil, llm.ErrNotConfigured
	}
	out, err := llmClient.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(nodeContentSystemPrompt, minNodeItems)},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Subtopic: %s\nContext (optional): %s\n\nReturn an ARRAY of item objects only.", subtopic, contextText)},
	}, &llm.GenerationParams{Temperature: llm.Float(nodeContentTemp), MaxTokens: llm.Int(nodeContentMax)})
	if err != nil {
		return nil, fmt.Errorf("generate node content: %w", err)
	}
	return ParseNodeItems(out), nil
}

// GenerateNodeContent 为节点生成学习条目，输出无法解析时保存为一条 STUDY 原文。
func (s *pathwayService) GenerateNodeContent(ctx context.Context, userID uint, nodeID string) ([]model.PathNodeContent, error) {
	if !s.llmClient.Enabled() {
		return nil, llm.ErrNotConfigured
	}
	node, err := s.pathwayRepo.FindNode(nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}
	pathway, err := s.pathwayRepo.FindOwned(node.PathwayID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}

	contextText := "Learning path: " + pathway.Title
	if node.ParentID != nil {
		if parent, err := s.pathwayRepo.FindNode(*node.ParentID); err == nil {
			contextText += "\nTopic: " + parent.Title
		}
	}

	log.Infof("[PathwayService] 生成节点内容, nodeID: %s, title: %s", nodeID, node.Title)
	items, err := GenerateSubtopicItems(ctx, s.llmClient, node.Title, contextText)
	if err != nil {
		return nil, err
	}
	start, err := s.pathwayRepo.MaxContentOrder(nodeID)
	if err != nil {
		return nil, err
	}
	rows := make([]model.PathNodeContent, 0, len(items))
	for i, it := range items {
		rows = append(rows, model.PathNodeContent{NodeID: nodeID, Kind: it.Kind, Label: it.Kind, Text: it.Content, OrderIndex: start + 1 + i})
	}
	if err := s.pathwayRepo.CreateContents(rows); err != nil {
		return nil, fmt.Errorf("保存节点内容失败: %w", err)
	}
	return rows, nil
}

// NormalizeItemKind 把模型给出的类型归一化为 QA 或 STUDY。
func NormalizeItemKind(t string) string {
	up := strings.ToUpper(strings.TrimSpace(t))
	switch up {
	case "QA", "Q&A", "Q/A", "QUESTION", "Q":
		return model.ContentKindQA
	case "STUDY", "NOTE", "NOTES", "SUMMARY", "EXPLAIN":
		return model.ContentKindStudy
	}
	if strings.Contains(up, "Q") && strings.Contains(up, "A") {
		return model.ContentKindQA
	}
	return model.ContentKindStudy
}

// ParseNodeItems 解析模型输出。支持对象数组、字符串数组、键值对象和单个对象，
// 都无法解析时返回一条截断到 3000 字符的 STUDY 原文。
func ParseNodeItems(text string) []NodeItem {
	if raw, ok := llm.ExtractJSON(text); ok {
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			if items := itemsFrom(parsed); len(items) > 0 {
				return items
			}
		}
	}
	snippet := strings.TrimSpace(text)
	if utf8.RuneCountInString(snippet) > rawItemRuneCap {
		snippet = string([]rune(snippet)[:rawItemRuneCap-3]) + "..."
	}
	if snippet == "" {
		snippet = "No content generated for subtopic."
	}
	return []NodeItem{{Kind: model.ContentKindStudy, Content: snippet}}
}

func itemsFrom(parsed interface{}) []NodeItem {
	var out []NodeItem
	switch v := parsed.(type) {
	case []interface{}:
		for _, elem := range v {
			switch e := elem.(type) {
			case map[string]interface{}:
				if it, ok := itemFromObject(e); ok {
					out = append(out, it)
				}
			case string:
				if c := strings.TrimSpace(e); c != "" {
					out = append(out, NodeItem{Kind: model.ContentKindStudy, Content: c})
				}
			}
		}
	case map[string]interface{}:
		allStrings := len(v) > 0
		for _, val := range v {
			if _, ok := val.(string); !ok {
				allStrings = false
				break
			}
		}
		if allStrings && v["content"] == nil && v["text"] == nil && v["body"] == nil {
			for k, val := range v {
				if c := strings.TrimSpace(val.(string)); c != "" {
					out = append(out, NodeItem{Kind: NormalizeItemKind(k), Content: c})
				}
			}
			return out
		}
		if it, ok := itemFromObject(v); ok {
			out = append(out, it)
		}
	}
	return out
}

func itemFromObject(e map[string]interface{}) (NodeItem, bool) {
	kind := firstString(e, "type", "kind", "role")
	content := strings.TrimSpace(firstString(e, "content", "text", "body"))
	if content == "" {
		return NodeItem{}, false
	}
	return NodeItem{Kind: NormalizeItemKind(kind), Content: content}, true
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
