package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/config"
)

type bufferWriter struct {
	chunks []string
}

func (b *bufferWriter) WriteMessage(_ int, data []byte) error {
	b.chunks = append(b.chunks, string(data))
	return nil
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "chat-model", JSONModel: "json-model"})
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(config.LLMConfig{})
	assert.False(t, c.Enabled())

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	err = c.StreamChatMessages(context.Background(), nil, nil, &bufferWriter{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_CompleteJSONSendsSchema(t *testing.T) {
	var got map[string]interface{}
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"type\":\"chat\",\"confidence\":0.7}"},"finish_reason":"stop"}]}`)
	})

	out, err := c.CompleteJSON(context.Background(),
		[]Message{{Role: RoleUser, Content: "classify"}},
		&GenerationParams{Temperature: Float(0.3), MaxTokens: Int(100)},
		JSONSchema{Name: "intent", Schema: json.RawMessage(`{"type":"object"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","confidence":0.7}`, out)

	assert.Equal(t, "json-model", got["model"])
	assert.InDelta(t, 0.3, got["temperature"], 1e-6)
	format := got["response_format"].(map[string]interface{})
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "intent", format["json_schema"].(map[string]interface{})["name"])
}

func TestClient_ExplicitZeroTemperatureIsSent(t *testing.T) {
	var got map[string]interface{}
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	})

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "grade"}}, &GenerationParams{Temperature: Float(0)})
	require.NoError(t, err)
	temp, ok := got["temperature"].(float64)
	require.True(t, ok, "temperature must be present in the request body")
	assert.Greater(t, temp, 0.0)
	assert.Less(t, temp, 1e-6)
}

func TestClient_StreamWritesChunks(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	buf := &bufferWriter{}
	require.NoError(t, c.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, buf))
	assert.Equal(t, "Hello", strings.Join(buf.chunks, ""))
}

func TestExtractJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Here you go: {\"a\":1} hope it helps", `{"a":1}`},
		{"Plan:\n[{\"type\":\"TOPIC\"}]\nDone", `[{"type":"TOPIC"}]`},
	}
	for _, tc := range cases {
		got, ok := ExtractJSON(tc.in)
		assert.True(t, ok, tc.in)
		assert.JSONEq(t, tc.want, got, tc.in)
	}

	_, ok := ExtractJSON("no json here")
	assert.False(t, ok)
}
