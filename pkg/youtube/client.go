// Package youtube 提供学习视频推荐检索。
package youtube

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"learnpilot/internal/config"
	"learnpilot/pkg/log"
)

// ErrNotConfigured 表示没有配置 API key。
var ErrNotConfigured = errors.New("youtube: api key is not configured")

// Video 是一条推荐视频。
type Video struct {
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	Thumbnail string `json:"thumbnail"`
	Link      string `json:"link"`
}

// Searcher 按关键词检索视频。
type Searcher interface {
	Search(ctx context.Context, query string) ([]Video, error)
}

// Cache 缓存检索结果。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

type client struct {
	svc        *yt.Service
	maxResults int64
	cache      Cache
}

// NewClient 创建 YouTube Data API 客户端；httpClient 为 nil 时使用默认传输并携带 API key。
func NewClient(ctx context.Context, cfg config.YouTubeConfig, cache Cache, httpClient *http.Client) (Searcher, error) {
	if cfg.APIKey == "" && httpClient == nil {
		return &disabled{}, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &client{svc: svc, maxResults: maxResults, cache: cache}, nil
}

func (c *client) Search(ctx context.Context, query string) ([]Video, error) {
	query = strings.TrimSpace(query)
	key := cacheKey(query, c.maxResults)
	if c.cache != nil {
		if raw, ok := c.cache.Get(ctx, key); ok {
			var cached []Video
			if json.Unmarshal(raw, &cached) == nil {
				log.Infof("[YouTube] 命中缓存, query: %s", query)
				return cached, nil
			}
		}
	}

	resp, err := c.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(c.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		log.Errorf("[YouTube] 检索失败, query: %s, error: %v", query, err)
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	videos := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		v := Video{
			Title:   item.Snippet.Title,
			Channel: item.Snippet.ChannelTitle,
			Link:    "https://www.youtube.com/watch?v=" + item.Id.VideoId,
		}
		if th := item.Snippet.Thumbnails; th != nil {
			switch {
			case th.Medium != nil:
				v.Thumbnail = th.Medium.Url
			case th.Default != nil:
				v.Thumbnail = th.Default.Url
			}
		}
		videos = append(videos, v)
	}

	if c.cache != nil {
		if raw, err := json.Marshal(videos); err == nil {
			c.cache.Set(ctx, key, raw)
		}
	}
	return videos, nil
}

type disabled struct{}

func (disabled) Search(context.Context, string) ([]Video, error) {
	return nil, ErrNotConfigured
}

func cacheKey(query string, n int64) string {
	sum := sha1.Sum([]byte(strings.ToLower(query)))
	return fmt.Sprintf("youtube:search:%d:%s", n, hex.EncodeToString(sum[:]))
}

type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache 返回基于 Redis 的缓存。
func NewRedisCache(rdb *redis.Client, ttl time.Duration) Cache {
	return &redisCache{rdb: rdb, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		log.Warnf("[YouTube] 写入缓存失败: %v", err)
	}
}
