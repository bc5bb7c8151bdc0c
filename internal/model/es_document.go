package model

import "fmt"

// SourceExcerpt 是返回给调用方的资料检索结果。
type SourceExcerpt struct {
	SourceID    uint    `json:"sourceId"`
	FileName    string  `json:"fileName"`
	ChunkIndex  int     `json:"chunkIndex"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}

// EsDocument 定义了存储在 Elasticsearch 中的文档结构。
type EsDocument struct {
	DocID        string    `json:"doc_id"` // sourceId + chunkIndex
	SourceID     uint      `json:"source_id"`
	ChunkIndex   int       `json:"chunk_index"`
	FileName     string    `json:"file_name"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
	ChatID       string    `json:"chat_id,omitempty"`
}

// EsDocID 返回分块在索引中的文档 ID。
func EsDocID(sourceID uint, chunkIndex int) string {
	return fmt.Sprintf("%d_%d", sourceID, chunkIndex)
}
