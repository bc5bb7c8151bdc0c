// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/hash"
	"learnpilot/pkg/log"
	"learnpilot/pkg/token"
)

// TokenPair 是一次登录签发的令牌。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserService 接口定义了所有与用户身份相关的业务操作。
type UserService interface {
	// ResolveUser 把会话身份映射为持久化的用户记录，只有数据存储错误才会返回 error。
	ResolveUser(ctx context.Context, id token.Identity) (*model.User, error)
	Guest(ctx context.Context) (*model.User, error)
	Register(email, password, name string) (*model.User, error)
	Login(email, password string) (*model.User, TokenPair, error)
	// IssueOpenSession 无需密码即可签发会话，仅在配置允许时可用。
	IssueOpenSession(ctx context.Context, email, name string) (*model.User, TokenPair, error)
	RefreshToken(refreshToken string) (TokenPair, error)
	Logout(ctx context.Context, tokenString string) error
	GetProfile(userID uint) (*model.User, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo          repository.UserRepository
	sessionRepo       repository.SessionRepository
	jwtManager        *token.JWTManager
	allowOpenSessions bool
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository, jwtManager *token.JWTManager, allowOpenSessions bool) UserService {
	return &userService{
		userRepo:          userRepo,
		sessionRepo:       sessionRepo,
		jwtManager:        jwtManager,
		allowOpenSessions: allowOpenSessions,
	}
}

// ResolveUser 按 email、name、访客的顺序解析身份。
// 仅有 name 时匹配最近创建的同名用户，找不到则新建，因此重复调用可能产生同名用户。
func (s *userService) ResolveUser(ctx context.Context, id token.Identity) (*model.User, error) {
	email := strings.TrimSpace(id.Email)
	name := strings.TrimSpace(id.Name)

	if email != "" {
		given := name != ""
		if !given {
			name = strings.SplitN(email, "@", 2)[0]
		}
		return s.userRepo.UpsertByEmail(email, name, model.RoleUser, given)
	}

	if name != "" {
		user, err := s.userRepo.FindLatestByName(name)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		user = &model.User{Name: name, Role: model.RoleUser}
		if err := s.userRepo.Create(user); err != nil {
			return nil, err
		}
		log.Infof("[UserService] 按名称创建新用户, name: %s, id: %d", name, user.ID)
		return user, nil
	}

	return s.Guest(ctx)
}

// Guest 返回（必要时创建）共享访客身份。
func (s *userService) Guest(ctx context.Context) (*model.User, error) {
	return s.userRepo.UpsertByEmail(model.GuestEmail, model.GuestName, model.RoleGuest, false)
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(email, password, name string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" || email == model.GuestEmail {
		return nil, ErrInvalidInput
	}

	// 1. 检查邮箱是否已存在
	_, err := s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	if strings.TrimSpace(name) == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	newUser := &model.User{
		Email:    &email,
		Name:     strings.TrimSpace(name),
		Password: hashedPassword,
		Role:     model.RoleUser,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(email, password string) (*model.User, TokenPair, error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByEmail(strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}

	// 2. 验证密码，无密码的账户（访客或开放会话创建的用户）不能登录
	if user.Password == "" || !hash.CheckPasswordHash(password, user.Password) {
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	// 3. 生成 access token 和 refresh token
	pair, err := s.issue(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *userService) IssueOpenSession(ctx context.Context, email, name string) (*model.User, TokenPair, error) {
	if !s.allowOpenSessions {
		return nil, TokenPair{}, ErrOpenSessionDisabled
	}
	user, err := s.ResolveUser(ctx, token.Identity{Email: email, Name: name})
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.issue(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	log.Infof("[UserService] 签发开放会话, userID: %d", user.ID)
	return user, pair, nil
}

// RefreshToken 校验 refresh token 并签发新的令牌对。
func (s *userService) RefreshToken(refreshToken string) (TokenPair, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("用户不存在: %w", err)
	}
	return s.issue(user)
}

// Logout 将 token 加入 Redis 黑名单，token 的剩余有效期作为过期时间。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	return s.sessionRepo.BlacklistToken(ctx, tokenString, claims.Remaining())
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

func (s *userService) issue(user *model.User) (TokenPair, error) {
	id := token.Identity{UserID: user.ID, Email: user.EmailValue(), Name: user.Name, Role: user.Role}
	access, err := s.jwtManager.GenerateToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.jwtManager.GenerateRefreshToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
