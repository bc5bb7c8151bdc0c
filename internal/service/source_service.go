package service

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/internal/pipeline"
	"learnpilot/internal/repository"
	"learnpilot/pkg/embedding"
	"learnpilot/pkg/kafka"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
	"learnpilot/pkg/pdfqa"
	"learnpilot/pkg/storage"
	"learnpilot/pkg/tasks"
	"learnpilot/pkg/tika"
)

const (
	defaultPDFQuery     = "Summarize key ideas and definitions."
	defaultInlineLimit  = 10000
	minPDFTextLength    = 50
	pdfExcerptLength    = 1200
	pdfTopChunks        = 3
	pdfTopicsChunkSize  = 2000
	pdfTopicsChunks     = 5
	pdfContentChunkSize = 1500
	pdfContentChunks    = 3
	downloadURLLifetime = time.Hour
)

// UploadInput 是一次资料上传。
type UploadInput struct {
	ChatID      string
	FileName    string
	ContentType string
	File        io.Reader
}

// PDFQueryInput 是一次 PDF 问答请求。
type PDFQueryInput struct {
	ChatID   string
	FileName string
	File     io.Reader
	Query    string
	Context  string
	Metadata string
}

// PDFQueryResult 是 PDF 问答的结果。
type PDFQueryResult struct {
	Query         string                 `json:"query"`
	Answer        string                 `json:"answer"`
	ContextUsed   string                 `json:"contextUsed"`
	Source        string                 `json:"source"`
	MetadataPatch map[string]interface{} `json:"metadataPatch"`
	Roadmap       model.Roadmap          `json:"roadmap,omitempty"`
}

// PDFTopicsInput 从 PDF 生成路线图。Query 为学习主题，ChatID 非空时路线图写入该聊天。
type PDFTopicsInput struct {
	ChatID   string
	FileName string
	File     io.Reader
	Query    string
}

// PDFContentInput 从 PDF 为一个子主题生成学习条目。
type PDFContentInput struct {
	FileName string
	File     io.Reader
	Subtopic string
}

// SourceService 定义了学习资料的上传、管理和问答。
type SourceService interface {
	// Upload 保存文件并投递处理任务。同一用户重复上传相同内容时返回已有记录。
	Upload(ctx context.Context, userID uint, in UploadInput) (*model.LearningSource, error)
	List(ctx context.Context, userID uint) ([]model.LearningSource, error)
	DownloadURL(ctx context.Context, userID, sourceID uint) (string, error)
	Delete(ctx context.Context, userID, sourceID uint) error
	Search(ctx context.Context, userID uint, query string, topK int) ([]model.SourceExcerpt, error)
	QueryPDF(ctx context.Context, userID uint, in PDFQueryInput) (*PDFQueryResult, error)
	PDFTopics(ctx context.Context, userID uint, in PDFTopicsInput) (model.Roadmap, error)
	PDFContent(ctx context.Context, userID uint, in PDFContentInput) ([]NodeItem, error)
}

type sourceService struct {
	sourceRepo      repository.SourceRepository
	store           storage.ObjectStore
	producer        kafka.Producer
	indexer         pipeline.Indexer
	searchService   SearchService
	extractor       tika.Extractor
	embeddingClient embedding.Client
	llmClient       llm.Client
	pdfClient       pdfqa.Client
	chatService     ChatService
	roadmapGen      RoadmapGenerator
	pdfCfg          config.PDFQAConfig
}

// NewSourceService 创建一个新的 SourceService 实例。indexer 可以为 nil。
func NewSourceService(
	sourceRepo repository.SourceRepository,
	store storage.ObjectStore,
	producer kafka.Producer,
	indexer pipeline.Indexer,
	searchService SearchService,
	extractor tika.Extractor,
	embeddingClient embedding.Client,
	llmClient llm.Client,
	pdfClient pdfqa.Client,
	chatService ChatService,
	pdfCfg config.PDFQAConfig,
) SourceService {
	if pdfCfg.InlineLimit <= 0 {
		pdfCfg.InlineLimit = defaultInlineLimit
	}
	return &sourceService{
		sourceRepo:      sourceRepo,
		store:           store,
		producer:        producer,
		indexer:         indexer,
		searchService:   searchService,
		extractor:       extractor,
		embeddingClient: embeddingClient,
		llmClient:       llmClient,
		pdfClient:       pdfClient,
		chatService:     chatService,
		roadmapGen:      NewRoadmapGenerator(llmClient),
		pdfCfg:          pdfCfg,
	}
}

func (s *sourceService) Upload(ctx context.Context, userID uint, in UploadInput) (*model.LearningSource, error) {
	name := path.Base(strings.ReplaceAll(in.FileName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	data, err := io.ReadAll(in.File)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	// 1. 秒传：相同内容直接返回已有记录
	existing, err := s.sourceRepo.FindByHash(fileHash, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil && existing.Status != model.SourceFailed {
		log.Infof("[SourceService] 文件已存在, 跳过上传, sourceID: %d", existing.ID)
		return existing, nil
	}
	if in.ChatID != "" {
		if _, err := s.chatService.GetChat(ctx, userID, in.ChatID); err != nil {
			return nil, err
		}
	}

	// 2. 写入对象存储
	objectName := fmt.Sprintf("sources/%d/%s/%s", userID, fileHash, name)
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	log.Infof("[SourceService] 步骤1: 上传文件到MinIO, object: %s, size: %d", objectName, len(data))
	if err := s.store.PutObject(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("上传文件到 MinIO 失败: %w", err)
	}

	// 3. 记录资料并投递处理任务，处理失败过的资料沿用原记录并指向新对象后重新投递
	if existing != nil {
		stale := existing.ObjectName
		existing.ObjectName = objectName
		existing.FileName = name
		existing.ContentType = contentType
		if in.ChatID != "" {
			chatID := in.ChatID
			existing.ChatID = &chatID
		}
		if err := s.sourceRepo.Requeue(existing); err != nil {
			return nil, err
		}
		if stale != objectName {
			if err := s.store.RemoveObject(ctx, stale); err != nil {
				log.Warnf("[SourceService] 删除旧对象失败, object: %s, error: %v", stale, err)
			}
		}
		log.Infof("[SourceService] 重新投递失败过的资料, sourceID: %d", existing.ID)
		return existing, s.enqueue(ctx, existing)
	}
	source := &model.LearningSource{
		UserID:      userID,
		FileHash:    fileHash,
		FileName:    name,
		ObjectName:  objectName,
		ContentType: contentType,
		TotalSize:   int64(len(data)),
		Status:      model.SourcePending,
	}
	if in.ChatID != "" {
		chatID := in.ChatID
		source.ChatID = &chatID
	}
	if err := s.sourceRepo.Create(source); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

func (s *sourceService) enqueue(ctx context.Context, source *model.LearningSource) error {
	task := tasks.SourceProcessingTask{
		SourceID:   source.ID,
		FileHash:   source.FileHash,
		ObjectName: source.ObjectName,
		FileName:   source.FileName,
		UserID:     source.UserID,
	}
	if source.ChatID != nil {
		task.ChatID = *source.ChatID
	}
	if err := s.producer.ProduceSourceTask(ctx, task); err != nil {
		log.Errorf("[SourceService] 投递处理任务失败, sourceID: %d, error: %v", source.ID, err)
		_ = s.sourceRepo.MarkFailed(source.ID, err.Error())
		return fmt.Errorf("投递处理任务失败: %w", err)
	}
	log.Infof("[SourceService] 步骤2: 处理任务已投递, sourceID: %d", source.ID)
	return nil
}

func (s *sourceService) List(ctx context.Context, userID uint) ([]model.LearningSource, error) {
	return s.sourceRepo.ListByUser(userID)
}

func (s *sourceService) owned(sourceID, userID uint) (*model.LearningSource, error) {
	src, err := s.sourceRepo.FindOwned(sourceID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSourceNotFound
	}
	return src, err
}

func (s *sourceService) DownloadURL(ctx context.Context, userID, sourceID uint) (string, error) {
	src, err := s.owned(sourceID, userID)
	if err != nil {
		return "", err
	}
	return s.store.PresignedURL(ctx, src.ObjectName, downloadURLLifetime)
}

func (s *sourceService) Delete(ctx context.Context, userID, sourceID uint) error {
	src, err := s.owned(sourceID, userID)
	if err != nil {
		return err
	}
	if s.indexer != nil {
		if err := s.indexer.DeleteBySource(ctx, src.ID); err != nil {
			log.Warnf("[SourceService] 删除索引失败, sourceID: %d, error: %v", src.ID, err)
		}
	}
	if err := s.store.RemoveObject(ctx, src.ObjectName); err != nil {
		log.Warnf("[SourceService] 删除对象失败, object: %s, error: %v", src.ObjectName, err)
	}
	return s.sourceRepo.Delete(src.ID, userID)
}

func (s *sourceService) Search(ctx context.Context, userID uint, query string, topK int) ([]model.SourceExcerpt, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	return s.searchService.HybridSearch(ctx, userID, query, topK)
}

// QueryPDF 回答关于一个 PDF 的问题。remote 模式转发给外部服务，local 模式在本进程内检索并作答。
func (s *sourceService) QueryPDF(ctx context.Context, userID uint, in PDFQueryInput) (*PDFQueryResult, error) {
	if !strings.HasSuffix(strings.ToLower(in.FileName), ".pdf") {
		return nil, fmt.Errorf("%w: Please upload a PDF file", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Query) == "" {
		in.Query = defaultPDFQuery
	}
	if in.ChatID != "" {
		if _, err := s.chatService.GetChat(ctx, userID, in.ChatID); err != nil {
			return nil, err
		}
	}

	var (
		res *PDFQueryResult
		err error
	)
	if s.pdfCfg.Mode == "remote" {
		res, err = s.queryRemote(ctx, in)
	} else {
		res, err = s.queryLocal(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	if in.ChatID != "" {
		event := model.Event{Type: "pdfQuery", TS: nowMillis(), Data: res.MetadataPatch}
		if err := s.chatService.AppendEvents(ctx, userID, in.ChatID, []model.Event{event}); err != nil {
			log.Warnf("[SourceService] 记录 PDF 问答事件失败, chatID: %s, error: %v", in.ChatID, err)
		}
	}
	return res, nil
}

func (s *sourceService) queryRemote(ctx context.Context, in PDFQueryInput) (*PDFQueryResult, error) {
	resp, err := s.pdfClient.Query(ctx, pdfqa.Request{
		FileName: in.FileName,
		File:     in.File,
		Query:    in.Query,
		Context:  in.Context,
		Metadata: in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	answer := resp.AnswerText()
	res := &PDFQueryResult{
		Query:         in.Query,
		Answer:        answer,
		ContextUsed:   resp.ContextUsed,
		Source:        resp.Source,
		MetadataPatch: resp.MetadataPatch,
	}
	if plan, ok := model.SanitizeRoadmap(resp.Answer); ok && len(plan) > 0 {
		res.Roadmap = plan
	} else if plan, ok := TryExtractRoadmap(answer); ok && len(plan) > 0 {
		res.Roadmap = plan
	}
	if res.MetadataPatch == nil {
		res.MetadataPatch = pdfMetadataPatch(in.FileName, resp.ContextUsed, len(resp.ContextUsed), resp.Source)
	}
	return res, nil
}

func (s *sourceService) queryLocal(ctx context.Context, in PDFQueryInput) (*PDFQueryResult, error) {
	// 1. 提取文本
	text, err := s.pdfText(ctx, in.File, in.FileName)
	if err != nil {
		return nil, err
	}

	// 2. 选择上下文并作答
	var contextText, answer, source string
	if utf8.RuneCountInString(text) < s.pdfCfg.InlineLimit {
		contextText = text
		source = "PDF: " + in.FileName
		answer = s.answerFromContext(ctx, in.Query, contextText)
	} else {
		chunks := pipeline.SplitText(text, pipeline.ChunkSize, 0)
		top, err := s.topChunks(ctx, in.Query, chunks, pdfTopChunks)
		if err != nil {
			log.Warnf("[SourceService] 向量检索失败, 使用前几个分块: %v", err)
			contextText = strings.Join(chunks[:min(pdfTopChunks, len(chunks))], "\n\n")
			answer = "Based on the PDF content:\n\n" + contextText
			source = "PDF: " + in.FileName + " (fallback)"
		} else {
			contextText = strings.Join(top, "\n\n")
			answer = s.answerFromContext(ctx, in.Query, contextText)
			source = "PDF: " + in.FileName + " (vector search)"
		}
	}

	excerpt := clipRunes(contextText, pdfExcerptLength)
	res := &PDFQueryResult{
		Query:         in.Query,
		Answer:        answer,
		ContextUsed:   excerpt,
		Source:        source,
		MetadataPatch: pdfMetadataPatch(in.FileName, excerpt, len(contextText), source),
	}
	if plan, ok := TryExtractRoadmap(answer); ok && len(plan) > 0 {
		res.Roadmap = plan
	}
	return res, nil
}

// pdfText 提取 PDF 文本，文本过短时返回 ErrInvalidInput。
func (s *sourceService) pdfText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	text, err := s.extractor.ExtractText(ctx, r, fileName)
	if err != nil {
		return "", fmt.Errorf("提取 PDF 文本失败: %w", err)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minPDFTextLength {
		return "", fmt.Errorf("%w: PDF appears to be empty or has insufficient text", ErrInvalidInput)
	}
	return text, nil
}

// leadingChunks 按 size 切分并拼接前 n 块作为模型上下文。
func leadingChunks(text string, size, n int) string {
	chunks := pipeline.SplitText(text, size, 0)
	return strings.Join(chunks[:min(n, len(chunks))], "\n\n")
}

// PDFTopics 以 PDF 前几块文本为上下文生成路线图。
func (s *sourceService) PDFTopics(ctx context.Context, userID uint, in PDFTopicsInput) (model.Roadmap, error) {
	if !strings.HasSuffix(strings.ToLower(in.FileName), ".pdf") {
		return nil, fmt.Errorf("%w: Please upload a PDF file", ErrInvalidInput)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if in.ChatID != "" {
		if _, err := s.chatService.GetChat(ctx, userID, in.ChatID); err != nil {
			return nil, err
		}
	}

	log.Infof("[SourceService] 步骤1: 提取 PDF 文本, file: %s", in.FileName)
	text, err := s.pdfText(ctx, in.File, in.FileName)
	if err != nil {
		return nil, err
	}

	log.Infof("[SourceService] 步骤2: 生成路线图, query: %s", query)
	plan, err := s.roadmapGen.GenerateRoadmap(ctx, query, leadingChunks(text, pdfTopicsChunkSize, pdfTopicsChunks))
	if err != nil {
		return nil, err
	}

	if in.ChatID != "" {
		patch := model.MetaPatch{
			Roadmap: model.SetRoadmap(plan),
			Events:  []model.Event{{Type: "pdfTopics", TS: nowMillis(), Data: map[string]interface{}{"file": in.FileName, "topics": len(plan)}}},
		}
		if _, err := s.chatService.UpdateMeta(ctx, userID, in.ChatID, patch); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// PDFContent 以 PDF 前几块文本为上下文为子主题生成学习条目。
func (s *sourceService) PDFContent(ctx context.Context, userID uint, in PDFContentInput) ([]NodeItem, error) {
	if !strings.HasSuffix(strings.ToLower(in.FileName), ".pdf") {
		return nil, fmt.Errorf("%w: Please upload a PDF file", ErrInvalidInput)
	}
	subtopic := strings.TrimSpace(in.Subtopic)
	if subtopic == "" {
		return nil, fmt.Errorf("%w: subtopic is required", ErrInvalidInput)
	}
	text, err := s.pdfText(ctx, in.File, in.FileName)
	if err != nil {
		return nil, err
	}
	log.Infof("[SourceService] 生成子主题学习条目, subtopic: %s", subtopic)
	return GenerateSubtopicItems(ctx, s.llmClient, subtopic, leadingChunks(text, pdfContentChunkSize, pdfContentChunks))
}

// answerFromContext 调用模型作答，失败时返回原始上下文。
func (s *sourceService) answerFromContext(ctx context.Context, query, contextText string) string {
	fallback := fmt.Sprintf("Query: %s\n\nRelevant PDF content:\n%s", query, contextText)
	if !s.llmClient.Enabled() {
		return fallback
	}
	ctxBlock := contextText
	if ctxBlock == "" {
		ctxBlock = "None"
	}
	out, err := s.llmClient.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: tutorSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nContext:\n%s", query, ctxBlock)},
	}, &llm.GenerationParams{Temperature: llm.Float(0.3), MaxTokens: llm.Int(2000)})
	if err != nil || strings.TrimSpace(out) == "" {
		log.Warnf("[SourceService] PDF 作答失败, 返回原始上下文: %v", err)
		return fallback
	}
	return out
}

func (s *sourceService) topChunks(ctx context.Context, query string, chunks []string, k int) ([]string, error) {
	qv, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for i, c := range chunks {
		v, err := s.embeddingClient.CreateEmbedding(ctx, c)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{idx: i, score: embedding.Cosine(qv, v)})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	out := make([]string, 0, k)
	for _, r := range ranked[:min(k, len(ranked))] {
		out = append(out, chunks[r.idx])
	}
	return out, nil
}

func pdfMetadataPatch(fileName, excerpt string, bytesUsed int, source string) map[string]interface{} {
	sum := sha1.Sum([]byte(excerpt))
	return map[string]interface{}{
		"type":            "pdf",
		"filename":        fileName,
		"context_excerpt": excerpt,
		"context_hash":    hex.EncodeToString(sum[:]),
		"bytes_used":      bytesUsed,
		"source":          source,
	}
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
