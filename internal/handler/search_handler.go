package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
	"learnpilot/pkg/log"
)

// SearchHandler 结构体定义了资料检索相关的处理器。
type SearchHandler struct {
	sourceService service.SourceService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(sourceService service.SourceService) *SearchHandler {
	return &SearchHandler{
		sourceService: sourceService,
	}
}

// HybridSearch 在用户自己的资料中执行混合检索。
func (h *SearchHandler) HybridSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	log.Infof("[SearchHandler] 收到混合搜索请求, query: %s", query)

	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: query 参数为空")
		fail(c, http.StatusBadRequest, "无效的查询参数")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "10"))
	if err != nil || topK <= 0 {
		topK = 10
	}

	user, found := currentUser(c)
	if !found {
		return
	}

	results, err := h.sourceService.Search(c.Request.Context(), user.ID, query, topK)
	if err != nil {
		failErr(c, "HybridSearch", err)
		return
	}

	log.Infof("[SearchHandler] 混合搜索成功, query: '%s', 返回 %d 条结果", query, len(results))
	ok(c, results)
}
