package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
)

// ResearchHandler 负责联网检索与视频推荐。
type ResearchHandler struct {
	researchService service.ResearchService
}

// NewResearchHandler 创建一个新的 ResearchHandler。
func NewResearchHandler(researchService service.ResearchService) *ResearchHandler {
	return &ResearchHandler{researchService: researchService}
}

// WebSearch 执行联网检索。
func (h *ResearchHandler) WebSearch(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req service.WebSearchInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		fail(c, http.StatusBadRequest, "query 不能为空")
		return
	}
	res, err := h.researchService.WebSearch(c.Request.Context(), user.ID, req)
	if err != nil {
		failErr(c, "WebSearch", err)
		return
	}
	ok(c, res)
}

// Videos 按查询推荐视频。
func (h *ResearchHandler) Videos(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, "查询参数 q 不能为空")
		return
	}
	videos, err := h.researchService.Videos(c.Request.Context(), query)
	if err != nil {
		failErr(c, "Videos", err)
		return
	}
	ok(c, gin.H{"videos": videos})
}

// Explore 同时返回网页答案和推荐视频。
func (h *ResearchHandler) Explore(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, "查询参数 q 不能为空")
		return
	}
	res, err := h.researchService.Explore(c.Request.Context(), user.ID, query)
	if err != nil {
		failErr(c, "Explore", err)
		return
	}
	ok(c, res)
}
