package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"learnpilot/internal/middleware"
)

// RouterConfig 汇集注册路由所需的处理器与中间件。
type RouterConfig struct {
	CORSOrigins []string
	// Auth 解析会话身份，通常是 middleware.OptionalAuth。
	Auth gin.HandlerFunc

	UserHandler         *UserHandler
	AuthHandler         *AuthHandler
	ChatHandler         *ChatHandler
	ConversationHandler *ConversationHandler
	PathwayHandler      *PathwayHandler
	PracticeHandler     *PracticeHandler
	ResearchHandler     *ResearchHandler
	UploadHandler       *UploadHandler
	SearchHandler       *SearchHandler
	ProgressHandler     *ProgressHandler
}

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(middleware.CORS(cfg.CORSOrigins), middleware.RequestLogger(), middleware.Metrics(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/chat/:token", cfg.ChatHandler.Handle)

	api := r.Group("/api/v1")
	api.Use(cfg.Auth)

	auth := api.Group("/auth")
	{
		auth.POST("/register", cfg.UserHandler.Register)
		auth.POST("/login", cfg.UserHandler.Login)
		auth.POST("/session", cfg.AuthHandler.Session)
		auth.POST("/refreshToken", cfg.AuthHandler.RefreshToken)
		auth.POST("/logout", middleware.RequireAccount(), cfg.UserHandler.Logout)
	}
	api.GET("/users/me", middleware.RequireAccount(), cfg.UserHandler.Me)
	api.GET("/chat/websocket-token", cfg.ChatHandler.GetWebsocketStopToken)

	chats := api.Group("/chats")
	{
		chats.POST("", cfg.ConversationHandler.Create)
		chats.GET("", cfg.ConversationHandler.List)
		chats.GET("/:id", cfg.ConversationHandler.Get)
		chats.PUT("/:id/snapshot", cfg.ConversationHandler.SaveSnapshot)
		chats.POST("/:id/turns", cfg.ConversationHandler.AppendTurn)
		chats.POST("/:id/performance", cfg.ConversationHandler.RecordPerformance)
		chats.PATCH("/:id", cfg.ConversationHandler.Update)
		chats.DELETE("/:id", cfg.ConversationHandler.Delete)
		chats.POST("/:id/plan", cfg.ConversationHandler.AttachPlan)
	}

	pathways := api.Group("/pathways")
	{
		pathways.POST("", cfg.PathwayHandler.Create)
		pathways.GET("", cfg.PathwayHandler.List)
		pathways.GET("/:id", cfg.PathwayHandler.Get)
		pathways.POST("/:id/relink", cfg.PathwayHandler.Relink)
	}
	api.POST("/roadmaps/ingest", cfg.PathwayHandler.Ingest)
	api.POST("/nodes/:id/content", cfg.PathwayHandler.GenerateNodeContent)

	practice := api.Group("/practice")
	{
		practice.POST("/generate", cfg.PracticeHandler.Generate)
		practice.POST("/grade/mcq", cfg.PracticeHandler.GradeMCQ)
		practice.POST("/grade/text", cfg.PracticeHandler.GradeText)
		practice.POST("/submit", cfg.PracticeHandler.Submit)
	}
	api.POST("/nlu/classify", cfg.PracticeHandler.Classify)

	research := api.Group("/research")
	{
		research.POST("/web", cfg.ResearchHandler.WebSearch)
		research.GET("/videos", cfg.ResearchHandler.Videos)
		research.GET("/explore", cfg.ResearchHandler.Explore)
	}

	sources := api.Group("/sources")
	{
		sources.POST("", cfg.UploadHandler.Upload)
		sources.GET("", cfg.UploadHandler.List)
		sources.GET("/search", cfg.SearchHandler.HybridSearch)
		sources.GET("/:id/download", cfg.UploadHandler.Download)
		sources.DELETE("/:id", cfg.UploadHandler.Delete)
	}
	api.POST("/pdf/query", cfg.UploadHandler.QueryPDF)
	api.POST("/pdf/topics", cfg.UploadHandler.PDFTopics)
	api.POST("/pdf/content", cfg.UploadHandler.PDFContent)

	api.GET("/progress", cfg.ProgressHandler.Overview)
	api.GET("/progress/:chatId", cfg.ProgressHandler.Summary)

	return r
}
