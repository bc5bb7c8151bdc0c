// Package model 定义了与数据库表对应的 Go 结构体以及聊天元数据等值对象。
package model

import "time"

// 角色常量
const (
	RoleUser  = "USER"
	RoleGuest = "GUEST"
)

// 共享访客身份
const (
	GuestEmail = "guest@example.com"
	GuestName  = "Guest"
)

// User 对应 users 表。Email 为首选的稳定标识，Name 不唯一。
// Email 使用指针以便仅凭 name 创建的用户保持 NULL，唯一索引不受影响。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     *string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Name      string    `gorm:"type:varchar(255);index" json:"name"`
	Password  string    `gorm:"type:varchar(255)" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// IsGuest 判断是否为共享访客身份。
func (u *User) IsGuest() bool {
	return u != nil && u.Email != nil && *u.Email == GuestEmail
}

// EmailValue 返回 email，未设置时为空串。
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}
