// Package websearch 封装搜索增强的补全接口（Perplexity chat/completions）。
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
	"learnpilot/pkg/metrics"
)

const (
	stringClip   = 600
	metadataClip = 8000
	minCharsBase = 1200
)

const defaultInstruction = "You are a meticulous research assistant.\n" +
	"Write Markdown with section headings, math (LaTeX), runnable code blocks, and tables when helpful.\n" +
	"Always ground claims with citations to high-quality sources (papers, docs, reputable media).\n" +
	"Prefer recent information and note what changed recently when relevant."

var outputRules = []string{
	"OUTPUT RULES:",
	"- Use clear section headings.",
	"- Use bullet points where clarity improves.",
	"- Put math in $$ display or $inline$.",
	"- Include runnable code blocks in fenced syntax when beneficial.",
	"- Tie each important claim to a short citation.",
	"- End with a concise **Key Takeaways** list.",
}

// Params 是一次检索的参数，零值字段使用默认值。
type Params struct {
	Query       string
	MinChars    int
	Instruction string
	Recency     string
	Model       string
	Metadata    interface{}
}

// Source 是一条引用来源。
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Result 是检索结果，Text 为 Markdown。
type Result struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Client 是联网检索客户端。
type Client interface {
	Enabled() bool
	Search(ctx context.Context, p Params) (Result, error)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type requestBody struct {
	Model               string    `json:"model"`
	Messages            []message `json:"messages"`
	Temperature         float64   `json:"temperature"`
	TopP                float64   `json:"top_p"`
	ReturnCitations     bool      `json:"return_citations"`
	SearchRecencyFilter string    `json:"search_recency_filter"`
	Stream              bool      `json:"stream"`
	TopK                int       `json:"top_k"`
	MaxOutputTokens     int       `json:"max_output_tokens"`
}

type responseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type perplexityClient struct {
	cfg     config.WebSearchConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient 创建客户端。客户端侧按 requests_per_second / burst 限流。
func NewClient(cfg config.WebSearchConfig) Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	return &perplexityClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *perplexityClient) Enabled() bool {
	return c.cfg.APIKey != ""
}

// Search 执行检索。上游错误被转换为说明文本，只有 ctx 取消时返回 error。
func (c *perplexityClient) Search(ctx context.Context, p Params) (Result, error) {
	if !c.Enabled() {
		return Result{
			Text:    "⚠️ Web search API key (LEARNPILOT_WEBSEARCH_API_KEY) is missing on the server. Add it to your environment and redeploy.",
			Sources: []Source{},
		}, nil
	}

	minChars := p.MinChars
	if minChars <= 0 {
		minChars = DefaultMinChars(p.Query)
	}
	body := c.baseBody(p, minChars)

	log.Infof("[WebSearch] 步骤1: 首次检索, model: %s, minChars: %d", body.Model, minChars)
	first, err := c.callOnce(ctx, body)
	if err != nil {
		return Result{}, err
	}
	if utf8.RuneCountInString(first.Text) >= minChars {
		return first, nil
	}

	log.Infof("[WebSearch] 步骤2: 结果过短(%d < %d)，请求扩写", utf8.RuneCountInString(first.Text), minChars)
	expand := body
	expand.Messages = append(append([]message(nil), body.Messages...),
		message{Role: "assistant", Content: first.Text},
		message{Role: "user", Content: fmt.Sprintf("Expand substantially until the total length is at least %d characters. Add more derivations, worked examples, runnable code, and additional high-quality citations.", minChars)},
	)
	expanded, err := c.callOnce(ctx, expand)
	if err != nil {
		return Result{}, err
	}

	if utf8.RuneCountInString(expanded.Text) > utf8.RuneCountInString(first.Text) {
		return Result{Text: expanded.Text, Sources: MergeSources(first.Sources, expanded.Sources)}, nil
	}
	first.Text += fmt.Sprintf("\n\n> Note: the model returned less than the requested minimum (%d chars) despite an expansion attempt.", minChars)
	return first, nil
}

func (c *perplexityClient) baseBody(p Params, minChars int) requestBody {
	instruction := strings.TrimSpace(p.Instruction)
	if instruction == "" {
		instruction = defaultInstruction
	}
	system := strings.Join([]string{
		instruction,
		"",
		fmt.Sprintf("HARD REQUIREMENT: produce at least %d characters.", minChars),
		"If the draft is shorter, expand with more details, examples, proofs, code, and references until the requirement is met.",
	}, "\n")

	user := append([]string{"QUERY: " + p.Query, contextBlock(p.Metadata), ""}, outputRules...)

	model := p.Model
	if model == "" {
		model = c.cfg.Model
	}
	recency := p.Recency
	if recency == "" {
		recency = c.cfg.Recency
	}
	return requestBody{
		Model:               model,
		Messages:            []message{{Role: "system", Content: system}, {Role: "user", Content: strings.Join(user, "\n")}},
		Temperature:         0.2,
		TopP:                0.9,
		ReturnCitations:     true,
		SearchRecencyFilter: recency,
		Stream:              false,
		TopK:                0,
		MaxOutputTokens:     4000,
	}
}

func (c *perplexityClient) callOnce(ctx context.Context, body requestBody) (res Result, err error) {
	defer func() { metrics.LLMCalls.WithLabelValues("websearch", metrics.Outcome(err)).Inc() }()
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal websearch request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create websearch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.Errorf("[WebSearch] 调用失败: %v", err)
		return errorResult(err.Error()), nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var data responseBody
	_ = json.Unmarshal(raw, &data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if data.Error != nil {
			msg = data.Error.Message
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		log.Warnf("[WebSearch] 上游返回非 2xx: %d", resp.StatusCode)
		return errorResult(msg), nil
	}

	text := ""
	if len(data.Choices) > 0 {
		text = data.Choices[0].Message.Content
		if text == "" {
			text = data.Choices[0].Delta.Content
		}
	}
	sources := make([]Source, 0, len(data.Citations))
	for _, u := range data.Citations {
		sources = append(sources, Source{URL: u, Title: u})
	}
	return Result{Text: strings.TrimSpace(text), Sources: sources}, nil
}

func errorResult(msg string) Result {
	return Result{
		Text:    "❌ Web search error:\n\n```\n" + msg + "\n```\nCheck API key, model name, and account limits.",
		Sources: []Source{},
	}
}

// DefaultMinChars 返回 max(1200, 10 × 查询长度)。
func DefaultMinChars(query string) int {
	n := utf8.RuneCountInString(query) * 10
	if n < minCharsBase {
		return minCharsBase
	}
	return n
}

// MergeSources 按 URL 去重合并，保留先出现的顺序。
func MergeSources(a, b []Source) []Source {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]Source, 0, len(a)+len(b))
	for _, s := range append(append([]Source(nil), a...), b...) {
		if s.URL == "" {
			continue
		}
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	return out
}

func contextBlock(metadata interface{}) string {
	if metadata == nil {
		return ""
	}
	js := SafeJSON(metadata)
	if js == "" {
		return ""
	}
	return strings.Join([]string{
		"",
		"CONTEXT (for grounding; may include prior messages/roadmap/performance):",
		"```json",
		js,
		"```",
	}, "\n")
}

// SafeJSON 以两空格缩进序列化 v，超过 600 字符的字符串被截断，整体不超过 8000 字符。
func SafeJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ""
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(clipStrings(generic)); err != nil {
		return ""
	}
	return clip(strings.TrimRight(buf.String(), "\n"), metadataClip)
}

func clipStrings(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return clip(t, stringClip)
	case []interface{}:
		for i := range t {
			t[i] = clipStrings(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = clipStrings(t[k])
		}
		return t
	default:
		return v
	}
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
