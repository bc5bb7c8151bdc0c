package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/embedding"
	"learnpilot/pkg/es"
	"learnpilot/pkg/log"
)

// SearchService 接口定义了对用户学习资料的检索。
type SearchService interface {
	// HybridSearch 在用户自己的资料中执行 kNN + BM25 混合检索。未配置索引时返回空结果。
	HybridSearch(ctx context.Context, userID uint, query string, topK int) ([]model.SourceExcerpt, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	indexName       string
	sourceRepo      repository.SourceRepository
}

// NewSearchService 创建一个新的 SearchService 实例。esClient 可以为 nil。
func NewSearchService(embeddingClient embedding.Client, esClient *elasticsearch.Client, indexName string, sourceRepo repository.SourceRepository) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		indexName:       indexName,
		sourceRepo:      sourceRepo,
	}
}

// HybridSearch 执行两阶段混合搜索。
func (s *searchService) HybridSearch(ctx context.Context, userID uint, query string, topK int) ([]model.SourceExcerpt, error) {
	if s.esClient == nil || strings.TrimSpace(query) == "" {
		return []model.SourceExcerpt{}, nil
	}
	if topK <= 0 {
		topK = 3
	}
	log.Infof("[SearchService] 开始执行混合搜索, query: '%s', topK: %d, userID: %d", query, topK, userID)

	// 1. 轻量归一化（去噪）以获取核心短语
	normalized, phrase := normalizeQuery(query)
	if normalized != query {
		log.Infof("[SearchService] 规范化查询: '%s' -> '%s'", query, normalized)
	}

	// 2. 向量化查询（用原始问句，保持语义检索能力）；未配置向量模型时只做 BM25
	var queryVector []float32
	vec, err := s.embeddingClient.CreateEmbedding(ctx, query)
	switch {
	case err == nil:
		queryVector = vec
		log.Infof("[SearchService] 步骤1: 向量化查询成功, 向量维度: %d", len(queryVector))
	case errors.Is(err, embedding.ErrNotConfigured):
		log.Infof("[SearchService] 步骤1: 未配置向量模型, 仅使用关键词检索")
	default:
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	// 3. 执行搜索，规范化后无命中时用原始问句重试一次
	hits, err := es.Search(ctx, s.esClient, s.indexName, buildHybridQuery(userID, normalized, phrase, queryVector, topK))
	if err != nil {
		log.Errorf("[SearchService] Elasticsearch 搜索失败: %v", err)
		return nil, err
	}
	if len(hits) == 0 && normalized != query {
		log.Infof("[SearchService] 使用原始问句重试查询: '%s'", query)
		if retry, err := es.Search(ctx, s.esClient, s.indexName, buildHybridQuery(userID, query, "", queryVector, topK)); err == nil {
			hits = retry
		}
	}
	if len(hits) == 0 {
		return []model.SourceExcerpt{}, nil
	}

	// 4. 批量补全文件名
	ids := make([]uint, 0, len(hits))
	seen := make(map[uint]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.Source.SourceID]; ok {
			continue
		}
		seen[h.Source.SourceID] = struct{}{}
		ids = append(ids, h.Source.SourceID)
	}
	names := make(map[uint]string, len(ids))
	if infos, err := s.sourceRepo.FindBatchByIDs(ids); err == nil {
		for _, info := range infos {
			names[info.ID] = info.FileName
		}
	} else {
		log.Warnf("[SearchService] 批量查询资料信息失败: %v", err)
	}

	results := make([]model.SourceExcerpt, 0, len(hits))
	for _, h := range hits {
		name := names[h.Source.SourceID]
		if name == "" {
			name = h.Source.FileName
		}
		results = append(results, model.SourceExcerpt{
			SourceID:    h.Source.SourceID,
			FileName:    name,
			ChunkIndex:  h.Source.ChunkIndex,
			TextContent: h.Source.TextContent,
			Score:       h.Score,
		})
	}
	log.Infof("[SearchService] 混合搜索执行完毕, 返回 %d 条结果", len(results))
	return results, nil
}

// buildHybridQuery 构建 kNN 召回 + BM25 重排的查询，结果限定在用户自己的资料内。
func buildHybridQuery(userID uint, text, phrase string, vector []float32, topK int) map[string]interface{} {
	userFilter := map[string]interface{}{"term": map[string]interface{}{"user_id": userID}}
	q := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   map[string]interface{}{"match": map[string]interface{}{"text_content": text}},
				"filter": userFilter,
				"should": buildPhraseShould(phrase),
			},
		},
		"size": topK,
	}
	if len(vector) > 0 {
		q["knn"] = map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK * 30,
			"num_candidates": topK * 30,
			"filter":         userFilter,
		}
		q["rescore"] = map[string]interface{}{
			"window_size": topK * 30,
			"query": map[string]interface{}{
				"rescore_query": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": map[string]interface{}{"query": text, "operator": "and"},
					},
				},
				"query_weight":         0.2, // 保留部分 k-NN 分数
				"rescore_query_weight": 1.0, // BM25 分数权重
			},
		}
	}
	return q
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// stopPhrases 是常见的口语化提问前缀。
var stopPhrases = []string{"what is", "what are", "explain", "tell me about", "how do i", "how does", "please", "can you", "?"}

// normalizeQuery 对用户查询进行轻量去噪与短语提取。
// 返回值：规范化后的查询（用于 BM25/rescore）与核心短语（用于 match_phrase 兜底）。
func normalizeQuery(q string) (string, string) {
	if q == "" {
		return q, ""
	}
	lower := " " + strings.ToLower(q) + " "
	for _, sp := range stopPhrases {
		lower = strings.ReplaceAll(lower, " "+sp+" ", " ")
		lower = strings.ReplaceAll(lower, sp, " ")
	}
	kept := reKeep.ReplaceAllString(lower, " ")
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q, ""
	}
	return kept, kept
}

// buildPhraseShould 构建 match_phrase should 子句（带 boost），为空则返回 nil
func buildPhraseShould(phrase string) interface{} {
	if phrase == "" {
		return nil
	}
	return []map[string]interface{}{
		{
			"match_phrase": map[string]interface{}{
				"text_content": map[string]interface{}{
					"query": phrase,
					"boost": 3.0,
				},
			},
		},
	}
}

// excerptContext 把检索结果格式化为 [n] (file) text 形式的引用块。
func excerptContext(results []model.SourceExcerpt) string {
	if len(results) == 0 {
		return ""
	}
	const maxSnippetLen = 1000
	var b strings.Builder
	for i, r := range results {
		snippet := r.TextContent
		if runes := []rune(snippet); len(runes) > maxSnippetLen {
			snippet = string(runes[:maxSnippetLen]) + "…"
		}
		label := r.FileName
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, label, snippet)
	}
	return b.String()
}
