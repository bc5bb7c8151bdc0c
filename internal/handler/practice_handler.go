package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
)

// PracticeHandler 负责练习生成、评分和意图分类。
type PracticeHandler struct {
	practiceService service.PracticeService
	intentService   service.IntentService
}

// NewPracticeHandler 创建一个新的 PracticeHandler。
func NewPracticeHandler(practiceService service.PracticeService, intentService service.IntentService) *PracticeHandler {
	return &PracticeHandler{practiceService: practiceService, intentService: intentService}
}

// Generate 生成一批练习题。
func (h *PracticeHandler) Generate(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req service.GenerateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	practice, err := h.practiceService.GeneratePractice(c.Request.Context(), user.ID, req)
	if err != nil {
		failErr(c, "GeneratePractice", err)
		return
	}
	ok(c, practice)
}

// GradeMCQ 评判一道选择题。
func (h *PracticeHandler) GradeMCQ(c *gin.Context) {
	var req service.MCQAnswer
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	if len(req.Options) == 0 {
		fail(c, http.StatusBadRequest, "options 不能为空")
		return
	}
	ok(c, h.practiceService.GradeMCQ(c.Request.Context(), req))
}

// GradeText 评判一道简答题。
func (h *PracticeHandler) GradeText(c *gin.Context) {
	var req service.TextAnswer
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		fail(c, http.StatusBadRequest, "prompt 不能为空")
		return
	}
	ok(c, h.practiceService.GradeText(c.Request.Context(), req))
}

// Submit 批量评分并记录成绩。
func (h *PracticeHandler) Submit(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req service.SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	res, err := h.practiceService.SubmitBatch(c.Request.Context(), user.ID, req)
	if err != nil {
		failErr(c, "SubmitBatch", err)
		return
	}
	ok(c, res)
}

// ClassifyRequest 是意图分类请求。
type ClassifyRequest struct {
	Prompt string `json:"prompt"`
}

// Classify 判断提问是路线图请求还是普通对话。
func (h *PracticeHandler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	ok(c, h.intentService.Classify(c.Request.Context(), req.Prompt))
}
