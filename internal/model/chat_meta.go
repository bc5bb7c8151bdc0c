package model

import (
	"bytes"
	"encoding/json"
)

// CurrentMetaVersion 是 ChatMeta 的当前结构版本。
const CurrentMetaVersion = 1

// 消息类型
const (
	MessageTypeUser = "user"
	MessageTypeAI   = "ai"
)

// 成绩记录类型
const (
	PerfKindMCQ  = "mcq"
	PerfKindText = "text"
)

// ChatMessage 是聊天中的单条消息。Timestamp 为毫秒时间戳。
type ChatMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// HistoryEntry 是一次问答往返的记录，只追加。
type HistoryEntry struct {
	TS   int64  `json:"ts"`
	User string `json:"user"`
	AI   string `json:"ai"`
}

// PerfDetails 记录一次作答的细节。
type PerfDetails struct {
	PickedIndex  *int   `json:"pickedIndex,omitempty"`
	CorrectIndex *int   `json:"correctIndex,omitempty"`
	Rationale    string `json:"rationale,omitempty"`
}

// PerfEntry 是一次评分事件，只追加。Accuracy 取值 0..1。
type PerfEntry struct {
	TS       int64        `json:"ts"`
	Kind     string       `json:"kind"`
	Question string       `json:"question"`
	Accuracy float64      `json:"accuracy"`
	Details  *PerfDetails `json:"details,omitempty"`
}

// Event 是审计日志中的一条事件。
type Event struct {
	Type string                 `json:"type"`
	TS   int64                  `json:"ts"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// ChatMeta 是每个聊天的聚合元数据文档。
type ChatMeta struct {
	V           int                    `json:"v"`
	Messages    []ChatMessage          `json:"messages"`
	Roadmap     Roadmap                `json:"roadmap"`
	History     []HistoryEntry         `json:"history"`
	Performance []PerfEntry            `json:"performance"`
	UI          map[string]interface{} `json:"ui"`
	Events      []Event                `json:"events"`
}

// NewChatMeta 返回所有列表为空的文档。
func NewChatMeta() ChatMeta {
	return ChatMeta{
		V:           CurrentMetaVersion,
		Messages:    []ChatMessage{},
		History:     []HistoryEntry{},
		Performance: []PerfEntry{},
		UI:          map[string]interface{}{},
		Events:      []Event{},
	}
}

// OptionalRoadmap 区分三种状态：未提供（保持不变）、null（清空）、具体值（整体替换）。
type OptionalRoadmap struct {
	Set   bool
	Value Roadmap
}

// SetRoadmap 构造一个已设置的 OptionalRoadmap，nil 表示清空。
func SetRoadmap(r Roadmap) OptionalRoadmap {
	return OptionalRoadmap{Set: true, Value: r}
}

// UnmarshalJSON 只有在字段出现时才会被调用，因此出现即视为已设置。
func (o *OptionalRoadmap) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// MarshalJSON 输出 Value；未设置时配合 omitzero 省略。
func (o OptionalRoadmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

// IsZero 让 omitzero 在未设置时省略该字段。
func (o OptionalRoadmap) IsZero() bool {
	return !o.Set
}

// MetaPatch 是对 ChatMeta 的部分更新。
type MetaPatch struct {
	Messages    []ChatMessage          `json:"messages,omitempty"`
	Roadmap     OptionalRoadmap        `json:"roadmap,omitzero"`
	History     []HistoryEntry         `json:"history,omitempty"`
	Performance []PerfEntry            `json:"performance,omitempty"`
	UI          map[string]interface{} `json:"ui,omitempty"`
	Events      []Event                `json:"events,omitempty"`
}

// MergeMeta 把 patch 合并到 existing 上，返回新文档，不修改任何输入。
//   - ui 浅合并，patch 中的键覆盖已有键
//   - roadmap 仅在 patch 设置时整体替换（null 即清空）
//   - messages / events / history / performance 追加在已有内容之后
func MergeMeta(existing ChatMeta, patch MetaPatch) ChatMeta {
	out := ChatMeta{
		V:           CurrentMetaVersion,
		Messages:    concat(existing.Messages, patch.Messages),
		Roadmap:     existing.Roadmap.clone(),
		History:     concat(existing.History, patch.History),
		Performance: concat(existing.Performance, patch.Performance),
		UI:          make(map[string]interface{}, len(existing.UI)+len(patch.UI)),
		Events:      concat(existing.Events, patch.Events),
	}
	if patch.Roadmap.Set {
		out.Roadmap = patch.Roadmap.Value.clone()
	}
	for k, v := range existing.UI {
		out.UI[k] = v
	}
	for k, v := range patch.UI {
		out.UI[k] = v
	}
	return out
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// LastMessages 返回最后 n 条消息。
func (m ChatMeta) LastMessages(n int) []ChatMessage {
	if len(m.Messages) <= n {
		return m.Messages
	}
	return m.Messages[len(m.Messages)-n:]
}

// LastHistory 返回最后 n 条问答记录。
func (m ChatMeta) LastHistory(n int) []HistoryEntry {
	if len(m.History) <= n {
		return m.History
	}
	return m.History[len(m.History)-n:]
}

// LastPerformance 返回最后 n 条成绩记录。
func (m ChatMeta) LastPerformance(n int) []PerfEntry {
	if len(m.Performance) <= n {
		return m.Performance
	}
	return m.Performance[len(m.Performance)-n:]
}

// FirstUserMessage 返回第一条用户消息内容。
func (m ChatMeta) FirstUserMessage() (string, bool) {
	for _, msg := range m.Messages {
		if msg.Type == MessageTypeUser {
			return msg.Content, true
		}
	}
	return "", false
}
