package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/model"
	"learnpilot/internal/service"
)

// ConversationHandler 处理聊天记录的存取请求。
type ConversationHandler struct {
	chatService    service.ChatService
	pathwayService service.PathwayService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(chatService service.ChatService, pathwayService service.PathwayService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService, pathwayService: pathwayService}
}

// Create 新建聊天。
func (h *ConversationHandler) Create(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req service.CreateChatInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	chat, err := h.chatService.CreateChat(c.Request.Context(), user.ID, req)
	if err != nil {
		failErr(c, "CreateChat", err)
		return
	}
	ok(c, gin.H{"id": chat.ID, "title": chat.Title})
}

// List 返回用户的聊天列表。
func (h *ConversationHandler) List(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	chats, err := h.chatService.ListChats(c.Request.Context(), user.ID)
	if err != nil {
		failErr(c, "ListChats", err)
		return
	}
	ok(c, chats)
}

// Get 返回聊天快照。
func (h *ConversationHandler) Get(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	snap, err := h.chatService.GetSnapshot(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		failErr(c, "GetSnapshot", err)
		return
	}
	ok(c, snap)
}

// SaveSnapshot 用客户端状态覆盖消息和路线图。
func (h *ConversationHandler) SaveSnapshot(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req service.SnapshotInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	req.ChatID = c.Param("id")
	chat, err := h.chatService.SaveSnapshot(c.Request.Context(), user.ID, req)
	if err != nil {
		failErr(c, "SaveSnapshot", err)
		return
	}
	ok(c, gin.H{"id": chat.ID, "title": chat.Title, "version": chat.Version})
}

// AppendTurn 追加一次问答往返。
func (h *ConversationHandler) AppendTurn(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req service.TurnInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	req.ChatID = c.Param("id")
	chat, err := h.chatService.AppendTurn(c.Request.Context(), user.ID, req)
	if err != nil {
		failErr(c, "AppendTurn", err)
		return
	}
	ok(c, gin.H{"id": chat.ID, "messageCount": len(chat.MetaData().Messages)})
}

// RecordPerformanceRequest 是成绩记录请求。
type RecordPerformanceRequest struct {
	Entries []model.PerfEntry `json:"entries" binding:"required"`
}

// RecordPerformance 追加成绩记录。
func (h *ConversationHandler) RecordPerformance(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req RecordPerformanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：entries 不能为空")
		return
	}
	total, err := h.chatService.RecordPerformance(c.Request.Context(), user.ID, c.Param("id"), req.Entries)
	if err != nil {
		failErr(c, "RecordPerformance", err)
		return
	}
	ok(c, gin.H{"count": total})
}

// UpdateChatRequest 是部分更新请求，未出现的字段保持不变。
type UpdateChatRequest struct {
	Title      *string          `json:"title"`
	LastNodeID *string          `json:"lastNodeId"`
	Meta       *model.MetaPatch `json:"meta"`
}

// Update 重命名聊天、记录当前节点或合并元数据补丁。
func (h *ConversationHandler) Update(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	ctx, chatID := c.Request.Context(), c.Param("id")
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			fail(c, http.StatusBadRequest, "标题不能为空")
			return
		}
		if err := h.chatService.RenameChat(ctx, user.ID, chatID, title); err != nil {
			failErr(c, "RenameChat", err)
			return
		}
	}
	if req.LastNodeID != nil {
		if err := h.chatService.SetLastNode(ctx, user.ID, chatID, *req.LastNodeID); err != nil {
			failErr(c, "SetLastNode", err)
			return
		}
	}
	if req.Meta != nil {
		if _, err := h.chatService.UpdateMeta(ctx, user.ID, chatID, *req.Meta); err != nil {
			failErr(c, "UpdateMeta", err)
			return
		}
	}
	snap, err := h.chatService.GetSnapshot(ctx, user.ID, chatID)
	if err != nil {
		failErr(c, "GetSnapshot", err)
		return
	}
	ok(c, snap)
}

// Delete 软删除聊天。
func (h *ConversationHandler) Delete(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	if err := h.chatService.DeleteChat(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		failErr(c, "DeleteChat", err)
		return
	}
	ok(c, nil)
}

// AttachPlanRequest 是把计划挂到聊天上的请求。
type AttachPlanRequest struct {
	Plan json.RawMessage `json:"plan"`
}

// AttachPlan 为聊天创建（或复用）学习路径。
func (h *ConversationHandler) AttachPlan(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	var req AttachPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	plan, err := h.pathwayService.SanitizePlan(req.Plan)
	if err != nil {
		failErr(c, "AttachPlan", err)
		return
	}
	res, err := h.pathwayService.AttachPlanToChat(c.Request.Context(), user.ID, c.Param("id"), plan)
	if err != nil {
		failErr(c, "AttachPlan", err)
		return
	}
	ok(c, res)
}
