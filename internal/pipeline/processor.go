// Package pipeline 定义了学习资料处理的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/elastic/go-elasticsearch/v8"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/embedding"
	"learnpilot/pkg/es"
	"learnpilot/pkg/log"
	"learnpilot/pkg/storage"
	"learnpilot/pkg/tasks"
	"learnpilot/pkg/tika"
)

// 分块参数，按字符（rune）计算
const (
	ChunkSize    = 1000
	ChunkOverlap = 100
)

// Indexer 写入与删除检索索引中的分块文档。
type Indexer interface {
	Index(ctx context.Context, doc model.EsDocument) error
	DeleteBySource(ctx context.Context, sourceID uint) error
}

type esIndexer struct {
	client    *elasticsearch.Client
	indexName string
}

// NewESIndexer 返回写入 Elasticsearch 的 Indexer。client 为 nil 时返回 nil。
func NewESIndexer(client *elasticsearch.Client, indexName string) Indexer {
	if client == nil {
		return nil
	}
	return &esIndexer{client: client, indexName: indexName}
}

func (i *esIndexer) Index(ctx context.Context, doc model.EsDocument) error {
	return es.IndexDocument(ctx, i.client, i.indexName, doc)
}

func (i *esIndexer) DeleteBySource(ctx context.Context, sourceID uint) error {
	return es.DeleteBySource(ctx, i.client, i.indexName, sourceID)
}

// Processor 封装了资料处理的所有依赖和逻辑。
type Processor struct {
	extractor       tika.Extractor
	embeddingClient embedding.Client
	store           storage.ObjectStore
	indexer         Indexer
	sourceRepo      repository.SourceRepository
	chunkRepo       repository.SourceChunkRepository
}

// NewProcessor 创建一个新的 Processor 实例。indexer 可以为 nil，此时只落库不建索引。
func NewProcessor(
	extractor tika.Extractor,
	embeddingClient embedding.Client,
	store storage.ObjectStore,
	indexer Indexer,
	sourceRepo repository.SourceRepository,
	chunkRepo repository.SourceChunkRepository,
) *Processor {
	return &Processor{
		extractor:       extractor,
		embeddingClient: embeddingClient,
		store:           store,
		indexer:         indexer,
		sourceRepo:      sourceRepo,
		chunkRepo:       chunkRepo,
	}
}

// Process 处理一个资料任务，最终将资料标记为 READY 或 FAILED。
func (p *Processor) Process(ctx context.Context, task tasks.SourceProcessingTask) error {
	log.Infof("[Processor] 开始处理资料, SourceID: %d, FileName: %s, UserID: %d", task.SourceID, task.FileName, task.UserID)
	count, err := p.process(ctx, task)
	if err != nil {
		if markErr := p.sourceRepo.MarkFailed(task.SourceID, err.Error()); markErr != nil {
			log.Errorf("[Processor] 标记资料失败状态出错, SourceID: %d, Error: %v", task.SourceID, markErr)
		}
		return err
	}
	if err := p.sourceRepo.MarkReady(task.SourceID, count); err != nil {
		return fmt.Errorf("更新资料状态失败: %w", err)
	}
	log.Infof("[Processor] 资料处理成功完成, SourceID: %d, chunks: %d", task.SourceID, count)
	return nil
}

func (p *Processor) process(ctx context.Context, task tasks.SourceProcessingTask) (int, error) {
	// 1. 从对象存储下载文件
	log.Infof("[Processor] 步骤1: 下载文件, Object: %s", task.ObjectName)
	object, err := p.store.GetObject(ctx, task.ObjectName)
	if err != nil {
		return 0, fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return 0, fmt.Errorf("读取MinIO对象流失败: %w", err)
	}
	if size == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return 0, errors.New("文件内容为空")
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", size)

	// 2. 使用 Tika 提取文本
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.FileName)
	if err != nil {
		return 0, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return 0, errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 3. 文本切块并落库，重复处理时整体替换
	pieces := SplitText(text, ChunkSize, ChunkOverlap)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(pieces))
	modelVersion := p.embeddingClient.ModelVersion()
	chunks := make([]*model.SourceChunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &model.SourceChunk{
			SourceID:     task.SourceID,
			ChunkIndex:   i,
			TextContent:  piece,
			ModelVersion: modelVersion,
			UserID:       task.UserID,
		})
	}
	if err := p.chunkRepo.ReplaceForSource(task.SourceID, chunks); err != nil {
		return 0, fmt.Errorf("批量保存文本分块失败: %w", err)
	}

	if p.indexer == nil {
		log.Warnf("[Processor] 未配置检索索引, 跳过向量化, SourceID: %d", task.SourceID)
		return len(chunks), nil
	}

	// 4. 向量化并索引
	if err := p.indexer.DeleteBySource(ctx, task.SourceID); err != nil {
		log.Warnf("[Processor] 清理旧索引失败, SourceID: %d, Error: %v", task.SourceID, err)
	}
	withVectors := true
	for i, chunk := range chunks {
		var vector []float32
		if withVectors {
			vector, err = p.embeddingClient.CreateEmbedding(ctx, chunk.TextContent)
			switch {
			case errors.Is(err, embedding.ErrNotConfigured):
				log.Warnf("[Processor] 未配置向量模型, 仅建立关键词索引")
				withVectors = false
			case err != nil:
				return 0, fmt.Errorf("块 %d 向量化失败: %w", chunk.ChunkIndex, err)
			}
		}
		doc := model.EsDocument{
			DocID:        model.EsDocID(task.SourceID, chunk.ChunkIndex),
			SourceID:     task.SourceID,
			ChunkIndex:   chunk.ChunkIndex,
			FileName:     task.FileName,
			TextContent:  chunk.TextContent,
			Vector:       vector,
			ModelVersion: modelVersion,
			UserID:       task.UserID,
			ChatID:       task.ChatID,
		}
		if err := p.indexer.Index(ctx, doc); err != nil {
			return 0, fmt.Errorf("索引块 %d 到 Elasticsearch 失败: %w", chunk.ChunkIndex, err)
		}
		log.Infof("[Processor] 分块 %d/%d 索引成功", i+1, len(chunks))
	}
	return len(chunks), nil
}

// SplitText 将长文本按指定大小和重叠进行切分，长度按 rune 计算。
func SplitText(text string, chunkSize int, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || chunkSize <= 0 {
		return nil
	}
	step := chunkSize - chunkOverlap
	if step <= 0 {
		step = chunkSize
	}
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
