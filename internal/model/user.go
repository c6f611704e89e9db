// Package model 包含了应用的数据模型定义。
package model

import "time"

// User 定义了 users 表的 ORM 模型，只承载账号与基础资料。
// 社交关系与会话数据不在 MySQL 中，统一由 kv 层管理。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	Nickname  string    `gorm:"type:varchar(64)" json:"nickname"`
	Bio       string    `gorm:"type:varchar(255)" json:"bio"`
	Role      string    `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
