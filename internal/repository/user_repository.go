// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"learnpilot/internal/model"
)

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	Create(user *model.User) error
	FindByID(userID uint) (*model.User, error)
	FindByEmail(email string) (*model.User, error)
	// FindLatestByName 返回同名用户中最近创建的一个，不存在时返回 gorm.ErrRecordNotFound。
	FindLatestByName(name string) (*model.User, error)
	// UpsertByEmail 按 email 插入并返回记录。已存在时 updateName 为 true 则更新名称，
	// 否则保持原记录不变。访客 email 从不更新。
	UpsertByEmail(email, name, role string, updateName bool) (*model.User, error)
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create 在数据库中创建一个新的用户记录。
func (r *userRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

// FindByID 根据用户 ID 从数据库中查找一个用户。
func (r *userRepository) FindByID(userID uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail 根据 email 查找用户。
func (r *userRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindLatestByName(name string) (*model.User, error) {
	var user model.User
	err := r.db.Where("name = ?", name).Order("created_at desc").Order("id desc").First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpsertByEmail(email, name, role string, updateName bool) (*model.User, error) {
	if role == "" {
		role = model.RoleUser
	}
	e := email
	user := model.User{Email: &e, Name: name, Role: role}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}
	if updateName && name != "" && email != model.GuestEmail {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}
	}
	err := r.db.Clauses(onConflict).Create(&user).Error
	if err != nil {
		return nil, err
	}
	existing, err := r.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("user vanished after upsert")
		}
		return nil, err
	}
	return existing, nil
}
