// Package pdfqa 是外部 PDF 检索问答服务的客户端。
package pdfqa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
)

// ErrNotConfigured 表示 remote 模式下没有配置服务地址。
var ErrNotConfigured = errors.New("pdfqa: base url is not configured")

// Request 是一次 PDF 问答请求。
type Request struct {
	FileName string
	File     io.Reader
	Query    string
	Context  string
	Metadata string
}

// Response 是服务返回的结果，Answer 可能是字符串或路线图数组。
type Response struct {
	Query         string                 `json:"query"`
	Answer        json.RawMessage        `json:"answer"`
	ContextUsed   string                 `json:"context_used"`
	Source        string                 `json:"source"`
	MetadataPatch map[string]interface{} `json:"metadata_patch"`
}

// AnswerText 返回字符串形式的回答，非字符串时返回原始 JSON 文本。
func (r Response) AnswerText() string {
	var s string
	if err := json.Unmarshal(r.Answer, &s); err == nil {
		return s
	}
	return string(r.Answer)
}

// Client 转发 PDF 问答请求。
type Client interface {
	Query(ctx context.Context, req Request) (*Response, error)
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient 创建客户端。
func NewClient(cfg config.PDFQAConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &httpClient{baseURL: strings.TrimRight(cfg.BaseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *httpClient) Query(ctx context.Context, r Request) (*Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", r.FileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r.File); err != nil {
		return nil, fmt.Errorf("copy pdf: %w", err)
	}
	_ = mw.WriteField("query", r.Query)
	if r.Context != "" {
		_ = mw.WriteField("context", r.Context)
	}
	if r.Metadata != "" {
		_ = mw.WriteField("metadata", r.Metadata)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pdf/query", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	log.Infof("[PDFQA] 转发 PDF 问答, file: %s", r.FileName)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call pdf query service: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("pdf query service error %d: %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode pdf query response: %w", err)
	}
	return &out, nil
}
