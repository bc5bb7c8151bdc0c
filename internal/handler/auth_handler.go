package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
	"learnpilot/pkg/log"
)

// AuthHandler 负责处理会话签发与刷新。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// SessionRequest 是免密码会话请求，email 与 name 至少提供一个。
type SessionRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session 签发只含 email/name 的会话。
func (h *AuthHandler) Session(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	user, pair, err := h.userService.IssueOpenSession(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		failErr(c, "Session", err)
		return
	}
	ok(c, gin.H{"user": user, "token": pair.AccessToken, "refreshToken": pair.RefreshToken})
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("RefreshToken: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：refreshToken 不能为空")
		return
	}

	pair, err := h.userService.RefreshToken(req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: Failed to refresh token, error: %v", err)
		fail(c, http.StatusUnauthorized, "无效的 refresh token")
		return
	}

	log.Info("Token refreshed successfully")
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Token refreshed successfully",
		"data": gin.H{
			"token":        pair.AccessToken,
			"refreshToken": pair.RefreshToken,
		},
	})
}
