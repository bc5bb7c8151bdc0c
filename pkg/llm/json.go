package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON 从模型输出中取出可解析的 JSON 文本。
// 依次尝试整段文本、代码块内容，最后是最外层的 {...} 或 [...] 片段。
func ExtractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	candidates := []string{s, StripCodeFence(s)}
	obj, arr := span(s, "{", "}"), span(s, "[", "]")
	// 先出现的括号是最外层
	if strings.Index(s, "[") >= 0 && (strings.Index(s, "{") < 0 || strings.Index(s, "[") < strings.Index(s, "{")) {
		candidates = append(candidates, arr, obj)
	} else {
		candidates = append(candidates, obj, arr)
	}
	for _, c := range candidates {
		if c != "" && json.Valid([]byte(c)) {
			return c, true
		}
	}
	return "", false
}

func span(s, open, close string) string {
	i, j := strings.Index(s, open), strings.LastIndex(s, close)
	if i < 0 || j <= i {
		return ""
	}
	return s[i : j+1]
}

// StripCodeFence 去掉 ```json ... ``` 包裹。
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// DecodeJSON 提取并解码模型输出。
func DecodeJSON(text string, v interface{}) bool {
	raw, ok := ExtractJSON(text)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}
