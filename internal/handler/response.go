// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/middleware"
	"learnpilot/internal/model"
	"learnpilot/internal/service"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
	"learnpilot/pkg/pdfqa"
	"learnpilot/pkg/tika"
	"learnpilot/pkg/youtube"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// failErr 把业务错误映射为 HTTP 状态码。
func failErr(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", op, err)
	} else {
		log.Warnf("%s: %v", op, err)
	}
	fail(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrPathwayNotFound),
		errors.Is(err, service.ErrNodeNotFound),
		errors.Is(err, service.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidPlan),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrOpenSessionDisabled):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, llm.ErrNotConfigured),
		errors.Is(err, youtube.ErrNotConfigured),
		errors.Is(err, pdfqa.ErrNotConfigured),
		errors.Is(err, tika.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// currentUser 返回 OptionalAuth 解析出的用户，缺失时直接写 500。
func currentUser(c *gin.Context) (*model.User, bool) {
	user, found := middleware.CurrentUser(c)
	if !found {
		fail(c, http.StatusInternalServerError, "无法获取用户信息")
	}
	return user, found
}
