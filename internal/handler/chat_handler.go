// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/internal/service"
	"learnpilot/pkg/log"
	"learnpilot/pkg/token"
)

// GuestToken 是 websocket 路径中表示访客身份的字面量。
const GuestToken = "guest"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// inboundFrame 是客户端发来的 websocket 消息。
type inboundFrame struct {
	Type     string `json:"type"`
	ChatID   string `json:"chatId"`
	Content  string `json:"content"`
	CmdToken string `json:"_internal_cmd_token"`
}

// lockedConn 串行化对同一连接的并发写入。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedConn) writeJSON(v interface{}) {
	b, _ := json.Marshal(v)
	_ = l.WriteMessage(websocket.TextMessage, b)
}

// ChatHandler 负责处理 WebSocket 辅导连接。
type ChatHandler struct {
	tutorService service.TutorService
	userService  service.UserService
	sessionRepo  repository.SessionRepository
	jwtManager   *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(tutorService service.TutorService, userService service.UserService, sessionRepo repository.SessionRepository, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		tutorService: tutorService,
		userService:  userService,
		sessionRepo:  sessionRepo,
		jwtManager:   jwtManager,
	}
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌，令牌按用户存入 Redis。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	cmdToken := "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	if err := h.sessionRepo.SaveStopToken(c.Request.Context(), cmdToken, user.ID); err != nil {
		failErr(c, "GetWebsocketStopToken", err)
		return
	}
	ok(c, gin.H{"cmdToken": cmdToken})
}

func (h *ChatHandler) resolve(c *gin.Context) (*model.User, error) {
	id := token.Identity{}
	if tokenString := c.Param("token"); tokenString != "" && tokenString != GuestToken {
		claims, err := h.jwtManager.VerifyToken(tokenString)
		if err != nil {
			return nil, err
		}
		id = claims.Identity()
	}
	return h.userService.ResolveUser(c.Request.Context(), id)
}

// Handle 处理一个传入的 WebSocket 连接。每条 prompt 在独立的 goroutine 中流式作答，读循环同时接收停止指令。
func (h *ChatHandler) Handle(c *gin.Context) {
	user, err := h.resolve(c)
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer ws.Close()
	conn := &lockedConn{conn: ws}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var (
		stopped   atomic.Bool
		streaming atomic.Bool
		wg        sync.WaitGroup
	)
	defer wg.Wait()

	log.Infof("[Chat] WebSocket 连接已建立, userID: %d, guest: %t", user.ID, user.IsGuest())

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			log.Warnf("[Chat] 从 WebSocket 读取消息失败: %v", err)
			cancel()
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			// 非 JSON 消息按纯文本 prompt 处理
			frame = inboundFrame{Type: "prompt", Content: string(message)}
		}

		switch frame.Type {
		case "stop":
			valid, err := h.sessionRepo.ConsumeStopToken(ctx, frame.CmdToken, user.ID)
			if err != nil {
				log.Warnf("[Chat] 校验停止令牌失败: %v", err)
			}
			if !valid {
				conn.writeJSON(gin.H{"error": "无效的停止令牌"})
				continue
			}
			stopped.Store(true)
			conn.writeJSON(gin.H{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			})
		case "prompt", "":
			content := strings.TrimSpace(frame.Content)
			if content == "" {
				conn.writeJSON(gin.H{"error": "消息内容不能为空"})
				continue
			}
			if !streaming.CompareAndSwap(false, true) {
				conn.writeJSON(gin.H{"error": "上一条回复尚未结束"})
				continue
			}
			stopped.Store(false)
			wg.Add(1)
			go func(chatID, prompt string) {
				defer wg.Done()
				defer streaming.Store(false)
				if _, err := h.tutorService.StreamResponse(ctx, user.ID, chatID, prompt, conn, stopped.Load); err != nil {
					log.Errorf("[Chat] 处理流式响应失败: %v", err)
					conn.writeJSON(gin.H{"error": "AI服务暂时不可用，请稍后重试"})
					conn.writeJSON(gin.H{
						"type":      "completion",
						"status":    "finished",
						"message":   "响应已完成",
						"timestamp": time.Now().UnixMilli(),
						"date":      time.Now().Format("2006-01-02T15:04:05"),
					})
				}
			}(frame.ChatID, content)
		default:
			conn.writeJSON(gin.H{"error": "未知的消息类型: " + frame.Type})
		}
	}
}
