package model

import (
	"encoding/json"
	"strings"
)

// 节点类型
const (
	NodeTypeTopic    = "TOPIC"
	NodeTypeSubtopic = "SUBTOPIC"
)

// RoadmapSubtopic 是学习计划中的子主题。
type RoadmapSubtopic struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

// RoadmapTopic 是学习计划中的主题，包含有序的子主题列表。
type RoadmapTopic struct {
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Subtopics []RoadmapSubtopic `json:"subtopics"`
}

// Roadmap 是有序的主题列表。nil 表示没有路线图（JSON null）。
type Roadmap []RoadmapTopic

// ValidSubtopics 返回类型为 SUBTOPIC 且名称非空的子主题。
func (t RoadmapTopic) ValidSubtopics() []RoadmapSubtopic {
	out := make([]RoadmapSubtopic, 0, len(t.Subtopics))
	for _, s := range t.Subtopics {
		if s.Type == NodeTypeSubtopic && strings.TrimSpace(s.Name) != "" {
			out = append(out, s)
		}
	}
	return out
}

// lenientTopic 用于逐元素宽松解码，单个元素字段类型不对时只丢弃该元素。
type lenientTopic struct {
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Subtopics []json.RawMessage `json:"subtopics"`
}

// SanitizeRoadmap 解析原始 JSON 计划并过滤掉格式错误的条目。
// 第二个返回值为 false 表示输入不是数组。
func SanitizeRoadmap(raw []byte) (Roadmap, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return nil, false
	}

	out := make(Roadmap, 0, len(elems))
	for _, e := range elems {
		var lt lenientTopic
		if err := json.Unmarshal(e, &lt); err != nil {
			continue
		}
		if lt.Type != NodeTypeTopic || strings.TrimSpace(lt.Name) == "" {
			continue
		}
		topic := RoadmapTopic{Type: NodeTypeTopic, Name: strings.TrimSpace(lt.Name), Subtopics: []RoadmapSubtopic{}}
		for _, rs := range lt.Subtopics {
			var s RoadmapSubtopic
			if err := json.Unmarshal(rs, &s); err != nil {
				continue
			}
			if s.Type != NodeTypeSubtopic || strings.TrimSpace(s.Name) == "" {
				continue
			}
			s.Name = strings.TrimSpace(s.Name)
			topic.Subtopics = append(topic.Subtopics, s)
		}
		out = append(out, topic)
	}
	return out, true
}

// Sanitize 对已解码的计划执行与 SanitizeRoadmap 相同的过滤。
func (r Roadmap) Sanitize() Roadmap {
	out := make(Roadmap, 0, len(r))
	for _, t := range r {
		if t.Type != NodeTypeTopic || strings.TrimSpace(t.Name) == "" {
			continue
		}
		out = append(out, RoadmapTopic{
			Type:      NodeTypeTopic,
			Name:      strings.TrimSpace(t.Name),
			Subtopics: t.ValidSubtopics(),
		})
	}
	return out
}

// clone 复制主题列表，nil 保持 nil；子主题总是非 nil。
func (r Roadmap) clone() Roadmap {
	if r == nil {
		return nil
	}
	out := make(Roadmap, len(r))
	for i, t := range r {
		out[i] = RoadmapTopic{Type: t.Type, Name: t.Name, Subtopics: append(make([]RoadmapSubtopic, 0, len(t.Subtopics)), t.Subtopics...)}
	}
	return out
}
