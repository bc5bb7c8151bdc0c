package handler

import (
	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
)

// ProgressHandler 负责学习进度查询。
type ProgressHandler struct {
	progressService service.ProgressService
}

// NewProgressHandler 创建一个新的 ProgressHandler。
func NewProgressHandler(progressService service.ProgressService) *ProgressHandler {
	return &ProgressHandler{progressService: progressService}
}

// Summary 返回单个聊天的成绩汇总。
func (h *ProgressHandler) Summary(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	summary, err := h.progressService.Summary(c.Request.Context(), user.ID, c.Param("chatId"))
	if err != nil {
		failErr(c, "ProgressSummary", err)
		return
	}
	ok(c, summary)
}

// Overview 返回用户全部聊天的进度概览。
func (h *ProgressHandler) Overview(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	overview, err := h.progressService.Overview(c.Request.Context(), user.ID)
	if err != nil {
		failErr(c, "ProgressOverview", err)
		return
	}
	ok(c, overview)
}
