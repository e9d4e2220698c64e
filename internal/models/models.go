package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Phone        string `gorm:"uniqueIndex;size:10;not null"`
	Username     string `gorm:"size:64;not null"`
	PasswordHash string `gorm:"not null"`
	Avatar       []byte `gorm:"type:blob"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contact 是某个用户通讯录里的一条记录。LinkedUserID 在对方手机号
// 尚未注册时为 NULL，注册后在下次访问时回填。
type Contact struct {
	ID           uint   `gorm:"primaryKey"`
	OwnerID      uint   `gorm:"uniqueIndex:idx_contact_owner_phone;not null"`
	LinkedUserID *uint  `gorm:"index"`
	Phone        string `gorm:"uniqueIndex:idx_contact_owner_phone;size:10;not null"`
	Nickname     string `gorm:"size:64;not null"`
	Avatar       []byte `gorm:"type:blob"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID         uint   `gorm:"primaryKey"`
	SenderID   uint   `gorm:"index:idx_msg_pair;not null"`
	ReceiverID uint   `gorm:"index:idx_msg_pair;not null"`
	Content    string `gorm:"type:text;not null"`
	Read       bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAt  time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
