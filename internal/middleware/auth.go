// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/internal/service"
	"learnpilot/pkg/log"
	"learnpilot/pkg/token"
)

// 上下文键
const (
	ContextUser   = "user"
	ContextClaims = "claims"
	ContextToken  = "token"
)

// BearerToken 从 Authorization 请求头中提取 token，格式不对时返回空串。
func BearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

// OptionalAuth 解析会话身份。缺失、格式错误、过期或已注销的 token 都降级为访客身份，不会拒绝请求。
// 解析出的 *model.User 存入上下文的 "user" 键。
func OptionalAuth(jwtManager *token.JWTManager, userService service.UserService, sessionRepo repository.SessionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := token.Identity{}
		if tokenString := BearerToken(c); tokenString != "" {
			claims, err := jwtManager.VerifyToken(tokenString)
			switch {
			case err != nil:
				log.Infof("[Auth] token 无效, 按访客处理: %v", err)
			case sessionRepo != nil && isBlacklisted(c, sessionRepo, tokenString):
				log.Infof("[Auth] token 已注销, 按访客处理")
			default:
				id = claims.Identity()
				c.Set(ContextClaims, claims)
				c.Set(ContextToken, tokenString)
			}
		}

		user, err := userService.ResolveUser(c.Request.Context(), id)
		if err != nil {
			log.Errorf("[Auth] 解析用户失败: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法解析用户身份", "data": nil})
			return
		}
		c.Set(ContextUser, user)
		c.Next()
	}
}

func isBlacklisted(c *gin.Context, sessionRepo repository.SessionRepository, tokenString string) bool {
	blacklisted, err := sessionRepo.IsBlacklisted(c.Request.Context(), tokenString)
	if err != nil {
		log.Warnf("[Auth] 查询 token 黑名单失败: %v", err)
		return false
	}
	return blacklisted
}

// RequireAccount 拒绝访客身份，必须挂在 OptionalAuth 之后。
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || user.IsGuest() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "需要登录", "data": nil})
			return
		}
		c.Next()
	}
}

// CurrentUser 返回 OptionalAuth 存入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}
