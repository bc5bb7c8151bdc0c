// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sashabaranov/go-openai"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
	"learnpilot/pkg/metrics"
)

// ErrNotConfigured 表示没有配置模型凭据。
var ErrNotConfigured = errors.New("llm: api key is not configured")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Enabled 报告是否配置了凭据。
	Enabled() bool
	// StreamChatMessages 以 role-based 消息与可选生成参数调用聊天接口，并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
	// Complete 非流式调用，返回完整文本。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// CompleteJSON 以严格 JSON Schema 约束输出，返回 JSON 文本。
	CompleteJSON(ctx context.Context, messages []Message, gen *GenerationParams, schema JSONSchema) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// 消息角色
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// JSONSchema 描述结构化输出的名称和 schema。
type JSONSchema struct {
	Name   string
	Schema json.RawMessage
}

// Float 返回 v 的指针。
func Float(v float64) *float64 { return &v }

// Int 返回 v 的指针。
func Int(v int) *int { return &v }

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient creates a new LLM client for any OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &openAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (c *openAIClient) Enabled() bool {
	return c.cfg.APIKey != ""
}

func (c *openAIClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) (err error) {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	defer func() { metrics.LLMCalls.WithLabelValues("stream", metrics.Outcome(err)).Inc() }()

	req := c.request(c.cfg.Model, messages, gen)
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := writer.WriteMessage(websocket.TextMessage, []byte(resp.Choices[0].Delta.Content)); err != nil {
			return fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
}

func (c *openAIClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	return c.complete(ctx, "complete", c.request(c.cfg.Model, messages, gen))
}

func (c *openAIClient) CompleteJSON(ctx context.Context, messages []Message, gen *GenerationParams, schema JSONSchema) (string, error) {
	model := c.cfg.JSONModel
	if model == "" {
		model = c.cfg.Model
	}
	req := c.request(model, messages, gen)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.Name,
			Schema: schema.Schema,
			Strict: true,
		},
	}
	return c.complete(ctx, "json:"+schema.Name, req)
}

func (c *openAIClient) complete(ctx context.Context, op string, req openai.ChatCompletionRequest) (text string, err error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	defer func() { metrics.LLMCalls.WithLabelValues(op, metrics.Outcome(err)).Inc() }()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.Errorf("[LLMClient] 调用失败, op: %s, error: %v", op, err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// request 组装请求；传参优先，其次使用全局配置中的非零值。
func (c *openAIClient) request(model string, messages []Message, gen *GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: model}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	temp, topP, maxTokens := c.cfg.Generation.Temperature, c.cfg.Generation.TopP, c.cfg.Generation.MaxTokens
	greedy := false
	if gen != nil {
		if gen.Temperature != nil {
			temp = *gen.Temperature
			greedy = temp == 0
		}
		if gen.TopP != nil {
			topP = *gen.TopP
		}
		if gen.MaxTokens != nil {
			maxTokens = *gen.MaxTokens
		}
	}
	req.Temperature = float32(temp)
	if greedy {
		// go-openai 的 temperature 带 omitempty，0 会被省略而退回服务端默认值
		req.Temperature = math.SmallestNonzeroFloat32
	}
	req.TopP = float32(topP)
	req.MaxTokens = maxTokens
	return req
}
