package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/config"
)

func newClient(url string) Client {
	return NewClient(config.WebSearchConfig{APIKey: "pk", BaseURL: url, Model: "sonar-pro", Recency: "month"})
}

func writeAnswer(w http.ResponseWriter, text string, citations ...string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"choices":   []interface{}{map[string]interface{}{"message": map[string]interface{}{"content": text}}},
		"citations": citations,
	})
}

func TestSearch_MissingKeyReturnsWarning(t *testing.T) {
	res, err := NewClient(config.WebSearchConfig{}).Search(context.Background(), Params{Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "missing on the server")
	assert.Empty(t, res.Sources)
}

func TestSearch_LongEnoughFirstPass(t *testing.T) {
	var body requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pk", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeAnswer(w, strings.Repeat("a", 50), "https://a.example")
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Search(context.Background(), Params{
		Query:    "graphs",
		MinChars: 20,
		Metadata: map[string]interface{}{"roadmap": []string{"BFS"}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Text, 50)
	assert.Equal(t, []Source{{URL: "https://a.example", Title: "https://a.example"}}, res.Sources)

	assert.Equal(t, "sonar-pro", body.Model)
	assert.Equal(t, "month", body.SearchRecencyFilter)
	assert.True(t, body.ReturnCitations)
	assert.Equal(t, 4000, body.MaxOutputTokens)
	require.Len(t, body.Messages, 2)
	assert.Contains(t, body.Messages[0].Content, "HARD REQUIREMENT: produce at least 20 characters.")
	assert.True(t, strings.HasPrefix(body.Messages[1].Content, "QUERY: graphs\n\nCONTEXT (for grounding"))
	assert.Contains(t, body.Messages[1].Content, "**Key Takeaways**")
}

func TestSearch_ExpandsAndMergesSources(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if atomic.AddInt32(&calls, 1) == 1 {
			writeAnswer(w, "short", "https://a.example")
			return
		}
		require.Len(t, body.Messages, 4)
		assert.Equal(t, "assistant", body.Messages[2].Role)
		assert.Contains(t, body.Messages[3].Content, "at least 100 characters")
		writeAnswer(w, strings.Repeat("b", 120), "https://a.example", "https://b.example")
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Search(context.Background(), Params{Query: "q", MinChars: 100})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Len(t, res.Text, 120)
	assert.Len(t, res.Sources, 2)
}

func TestSearch_ShortfallNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAnswer(w, "tiny")
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Search(context.Background(), Params{Query: "q", MinChars: 100})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Text, "tiny\n\n> Note: the model returned less than the requested minimum (100 chars)"))
}

func TestSearch_UpstreamErrorBecomesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Search(context.Background(), Params{Query: "q", MinChars: 1})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "invalid api key")
	assert.Contains(t, res.Text, "Check API key, model name, and account limits.")
}

func TestSafeJSON_ClipsLongStringsAndTotal(t *testing.T) {
	out := SafeJSON(map[string]interface{}{"note": strings.Repeat("x", 700)})
	assert.Contains(t, out, strings.Repeat("x", 600)+"…")
	assert.NotContains(t, out, strings.Repeat("x", 601))

	many := make([]string, 40)
	for i := range many {
		many[i] = strings.Repeat("y", 500)
	}
	big := SafeJSON(many)
	assert.Equal(t, 8001, len([]rune(big)))
}

func TestDefaultMinChars(t *testing.T) {
	assert.Equal(t, 1200, DefaultMinChars("short"))
	assert.Equal(t, 2000, DefaultMinChars(strings.Repeat("q", 200)))
}

func TestMergeSources(t *testing.T) {
	out := MergeSources([]Source{{URL: "a"}, {URL: "b"}}, []Source{{URL: "b"}, {URL: "c"}, {URL: ""}})
	assert.Equal(t, []Source{{URL: "a"}, {URL: "b"}, {URL: "c"}}, out)
}
