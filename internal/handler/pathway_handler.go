package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
	"learnpilot/pkg/log"
)

// PathwayHandler 负责学习路径的创建、查询与内容生成。
type PathwayHandler struct {
	pathwayService service.PathwayService
}

// NewPathwayHandler 创建一个新的 PathwayHandler。
func NewPathwayHandler(pathwayService service.PathwayService) *PathwayHandler {
	return &PathwayHandler{pathwayService: pathwayService}
}

// CreatePathwayRequest 是创建学习路径的请求，plan 原样解析后再清洗。
type CreatePathwayRequest struct {
	ChatID *string         `json:"chatId"`
	Title  string          `json:"title"`
	Status string          `json:"status"`
	Plan   json.RawMessage `json:"plan"`
}

// Create 由计划创建学习路径。链接阶段未完成时仍返回创建结果，并附带 linked=false。
func (h *PathwayHandler) Create(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req CreatePathwayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	plan, err := h.pathwayService.SanitizePlan(req.Plan)
	if err != nil {
		failErr(c, "CreatePathway", err)
		return
	}
	res, err := h.pathwayService.BuildFromPlan(c.Request.Context(), user.ID, service.BuildInput{
		ChatID: req.ChatID,
		Title:  req.Title,
		Status: req.Status,
		Topics: plan,
	})
	if errors.Is(err, service.ErrLinkIncomplete) && res != nil {
		log.Warnf("[Pathway] 路径 %s 链接未完成: %v", res.PathwayID, err)
		ok(c, gin.H{"pathwayId": res.PathwayID, "rootNodeId": res.RootNodeID, "topicNodeIds": res.TopicNodeIDs, "linked": false})
		return
	}
	if err != nil {
		failErr(c, "CreatePathway", err)
		return
	}
	ok(c, gin.H{"pathwayId": res.PathwayID, "rootNodeId": res.RootNodeID, "topicNodeIds": res.TopicNodeIDs, "linked": true})
}

// List 返回用户的学习路径。
func (h *PathwayHandler) List(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	list, err := h.pathwayService.ListPathways(c.Request.Context(), user.ID)
	if err != nil {
		failErr(c, "ListPathways", err)
		return
	}
	ok(c, list)
}

// Get 返回学习路径及其节点树。
func (h *PathwayHandler) Get(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	tree, err := h.pathwayService.GetTree(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		failErr(c, "GetTree", err)
		return
	}
	ok(c, tree)
}

// Relink 重新计算学习路径的 nextId 链。
func (h *PathwayHandler) Relink(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	if err := h.pathwayService.Relink(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		failErr(c, "Relink", err)
		return
	}
	ok(c, nil)
}

// IngestRoadmapRequest 是路线图导入请求。
type IngestRoadmapRequest struct {
	SubjectKey  string          `json:"subjectKey"`
	SubjectName string          `json:"subjectName"`
	ChatTitle   string          `json:"chatTitle"`
	Roadmap     json.RawMessage `json:"roadmap"`
}

// Ingest 一次性创建科目、聊天和学习路径。
func (h *PathwayHandler) Ingest(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req IngestRoadmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	topics, err := h.pathwayService.SanitizePlan(req.Roadmap)
	if err != nil {
		failErr(c, "IngestRoadmap", err)
		return
	}
	res, err := h.pathwayService.IngestRoadmap(c.Request.Context(), user.ID, service.IngestInput{
		SubjectKey:  req.SubjectKey,
		SubjectName: req.SubjectName,
		ChatTitle:   req.ChatTitle,
		Topics:      topics,
	})
	if err != nil {
		failErr(c, "IngestRoadmap", err)
		return
	}
	ok(c, res)
}

// GenerateNodeContent 为节点生成学习条目。
func (h *PathwayHandler) GenerateNodeContent(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	contents, err := h.pathwayService.GenerateNodeContent(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		failErr(c, "GenerateNodeContent", err)
		return
	}
	ok(c, gin.H{"contents": contents})
}
