package service

import "errors"

// 业务层哨兵错误，处理器通过 errors.Is 映射为 HTTP 状态码。
var (
	ErrChatNotFound    = errors.New("Chat not found or not owned by user.")
	ErrInvalidPlan     = errors.New("Empty or invalid plan.")
	ErrPathwayNotFound = errors.New("pathway not found or not owned by user")
	ErrNodeNotFound    = errors.New("node not found or not owned by user")
	ErrSourceNotFound  = errors.New("source not found or not owned by user")
	// ErrLinkIncomplete 表示节点已创建但 nextId 链接阶段未全部完成，结果仍然返回。
	ErrLinkIncomplete = errors.New("pathway created but sibling links are incomplete")
	ErrInvalidInput   = errors.New("invalid input")
)

// 账户相关错误
var (
	ErrEmailTaken          = errors.New("邮箱已被注册")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrOpenSessionDisabled = errors.New("open sessions are disabled")
)
