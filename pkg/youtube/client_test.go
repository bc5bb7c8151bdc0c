package youtube

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/config"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

const searchResponse = `{
  "items": [
    {"id": {"kind": "youtube#video", "videoId": "abc123"},
     "snippet": {"title": "Linear Equations", "channelTitle": "Math Channel",
                 "thumbnails": {"medium": {"url": "https://i.ytimg.com/abc/mq.jpg"}}}},
    {"id": {"kind": "youtube#channel"}, "snippet": {"title": "skip me"}}
  ]
}`

func TestSearch_MapsVideosAndCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/youtube/v3/search", r.URL.Path)
		assert.Equal(t, "linear equations", r.URL.Query().Get("q"))
		assert.Equal(t, "video", r.URL.Query().Get("type"))
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, searchResponse)
	}))
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	s, err := NewClient(context.Background(), config.YouTubeConfig{APIKey: "k", Endpoint: srv.URL + "/"}, cache, srv.Client())
	require.NoError(t, err)

	videos, err := s.Search(context.Background(), "linear equations")
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, Video{
		Title:     "Linear Equations",
		Channel:   "Math Channel",
		Thumbnail: "https://i.ytimg.com/abc/mq.jpg",
		Link:      "https://www.youtube.com/watch?v=abc123",
	}, videos[0])

	again, err := s.Search(context.Background(), "linear equations")
	require.NoError(t, err)
	assert.Equal(t, videos, again)
	assert.Equal(t, 1, hits)
}

func TestSearch_NotConfigured(t *testing.T) {
	s, err := NewClient(context.Background(), config.YouTubeConfig{}, nil, nil)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
