// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/pkg/log"
)

// DefaultDims 是未配置维度时使用的向量维度。
const DefaultDims = 1536

var ESClient *elasticsearch.Client

// Hit 是一条搜索命中。
type Hit struct {
	Source model.EsDocument `json:"_source"`
	Score  float64          `json:"_score"`
}

// NewClient 根据配置创建客户端，不做任何网络调用。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// InitES 初始化 Elasticsearch 客户端并确保索引存在
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return EnsureIndex(context.Background(), client, esCfg.IndexName, dims)
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	if dims <= 0 {
		dims = DefaultDims
	}
	res, err = client.Indices.Create(indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"doc_id": { "type": "keyword" },
				"source_id": { "type": "long" },
				"chunk_index": { "type": "integer" },
				"file_name": { "type": "keyword" },
				"text_content": { "type": "text", "analyzer": "standard" },
				"vector": { "type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine" },
				"model_version": { "type": "keyword" },
				"user_id": { "type": "long" },
				"chat_id": { "type": "keyword" }
			}
		}
	}`, dims)
}

// IndexDocument 将单个分块向量索引到 Elasticsearch。
func IndexDocument(ctx context.Context, client *elasticsearch.Client, indexName string, doc model.EsDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}
	return nil
}

// DeleteBySource 删除某个资料的全部分块。
func DeleteBySource(ctx context.Context, client *elasticsearch.Client, indexName string, sourceID uint) error {
	body := fmt.Sprintf(`{"query":{"term":{"source_id":%d}}}`, sourceID)
	res, err := client.DeleteByQuery([]string{indexName}, strings.NewReader(body),
		client.DeleteByQuery.WithContext(ctx),
		client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete by query failed: %s", res.String())
	}
	return nil
}

// Search 执行查询并返回命中列表。
func Search(ctx context.Context, client *elasticsearch.Client, indexName string, query map[string]interface{}) ([]Hit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
		client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s, body: %s", res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	return esResponse.Hits.Hits, nil
}
