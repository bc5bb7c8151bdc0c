package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/middleware"
	"learnpilot/internal/service"
	"learnpilot/pkg/log"
)

// UserHandler 负责处理账号注册、登录、注销与个人信息请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：邮箱和密码（至少 6 位）不能为空")
		return
	}

	user, err := h.userService.Register(strings.TrimSpace(req.Email), req.Password, strings.TrimSpace(req.Name))
	if err != nil {
		failErr(c, "Register", err)
		return
	}

	log.Infof("User '%s' registered successfully", user.EmailValue())
	ok(c, user)
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：邮箱和密码不能为空")
		return
	}

	user, pair, err := h.userService.Login(strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		failErr(c, "Login", err)
		return
	}
	ok(c, gin.H{"user": user, "token": pair.AccessToken, "refreshToken": pair.RefreshToken})
}

// Logout 将当前 token 加入黑名单。
func (h *UserHandler) Logout(c *gin.Context) {
	tokenString := c.GetString(middleware.ContextToken)
	if err := h.userService.Logout(c.Request.Context(), tokenString); err != nil {
		failErr(c, "Logout", err)
		return
	}
	ok(c, nil)
}

// Me 返回当前用户。
func (h *UserHandler) Me(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	ok(c, user)
}
