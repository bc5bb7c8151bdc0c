package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/handler"
	"learnpilot/internal/middleware"
	"learnpilot/internal/pipeline"
	"learnpilot/internal/repository"
	"learnpilot/internal/service"
	"learnpilot/pkg/database"
	"learnpilot/pkg/embedding"
	"learnpilot/pkg/es"
	"learnpilot/pkg/kafka"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
	"learnpilot/pkg/pdfqa"
	"learnpilot/pkg/storage"
	"learnpilot/pkg/tika"
	"learnpilot/pkg/token"
	"learnpilot/pkg/websearch"
	"learnpilot/pkg/youtube"
)

func runServe() error {
	cfg := bootstrap()
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 初始化数据库、Redis、对象存储和索引
	database.InitMySQL(cfg.Database.MySQL)
	if err := database.AutoMigrate(database.DB); err != nil {
		return err
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			return fmt.Errorf("es 初始化失败: %w", err)
		}
	} else {
		log.Warnf("未配置 Elasticsearch，资料检索将返回空结果")
	}

	// 2. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.RDB)
	chatRepo := repository.NewChatRepository(database.DB)
	pathwayRepo := repository.NewPathwayRepository(database.DB)
	subjectRepo := repository.NewSubjectRepository(database.DB)
	sourceRepo := repository.NewSourceRepository(database.DB)
	chunkRepo := repository.NewSourceChunkRepository(database.DB)

	// 3. 初始化外部客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	tikaClient := tika.NewClient(cfg.Tika)
	pdfClient := pdfqa.NewClient(cfg.PDFQA)
	webClient := websearch.NewClient(cfg.WebSearch)
	videoSearcher, err := youtube.NewClient(ctx, cfg.YouTube,
		youtube.NewRedisCache(database.RDB, time.Duration(cfg.YouTube.CacheTTLMinutes)*time.Minute), nil)
	if err != nil {
		return err
	}
	store := storage.NewMinIOStore(storage.MinioClient, cfg.MinIO.BucketName)
	indexer := pipeline.NewESIndexer(es.ESClient, cfg.Elasticsearch.IndexName)
	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化 Service (依赖注入)
	userService := service.NewUserService(userRepo, sessionRepo, jwtManager, cfg.JWT.AllowOpenSessions)
	chatService := service.NewChatService(chatRepo)
	searchService := service.NewSearchService(embeddingClient, es.ESClient, cfg.Elasticsearch.IndexName, sourceRepo)
	pathwayService := service.NewPathwayService(pathwayRepo, subjectRepo, chatService, llmClient)
	intentService := service.NewIntentService(llmClient)
	roadmapGenerator := service.NewRoadmapGenerator(llmClient)
	tutorService := service.NewTutorService(chatService, intentService, roadmapGenerator, searchService, llmClient)
	practiceService := service.NewPracticeService(llmClient, chatService, searchService, cfg.Practice)
	researchService := service.NewResearchService(webClient, videoSearcher, chatService)
	sourceService := service.NewSourceService(sourceRepo, store, producer, indexer, searchService,
		tikaClient, embeddingClient, llmClient, pdfClient, chatService, cfg.PDFQA)
	progressService := service.NewProgressService(chatRepo, chatService, practiceService)

	// 5. 启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(tikaClient, embeddingClient, store, indexer, sourceRepo, chunkRepo)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.StartConsumer(ctx, cfg.Kafka, processor, kafka.NewRedisCounter(database.RDB))
	}()

	// 6. 注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterConfig{
		CORSOrigins:         cfg.Server.CORSOrigins,
		Auth:                middleware.OptionalAuth(jwtManager, userService, sessionRepo),
		UserHandler:         handler.NewUserHandler(userService),
		AuthHandler:         handler.NewAuthHandler(userService),
		ChatHandler:         handler.NewChatHandler(tutorService, userService, sessionRepo, jwtManager),
		ConversationHandler: handler.NewConversationHandler(chatService, pathwayService),
		PathwayHandler:      handler.NewPathwayHandler(pathwayService),
		PracticeHandler:     handler.NewPracticeHandler(practiceService, intentService),
		ResearchHandler:     handler.NewResearchHandler(researchService),
		UploadHandler:       handler.NewUploadHandler(sourceService),
		SearchHandler:       handler.NewSearchHandler(sourceService),
		ProgressHandler:     handler.NewProgressHandler(progressService),
	})

	// 7. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("接收到停机信号，正在关闭服务...")
	case err := <-serveErr:
		stop()
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
	return nil
}
