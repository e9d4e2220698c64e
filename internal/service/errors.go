package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码
// 或 WebSocket 错误事件。not-found 一类要与存储故障严格区分，客户端
// 靠这个区别决定是否写入墓碑缓存。
var (
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrPhoneTaken         = errors.New("phone number already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrContactNotFound    = errors.New("contact not found")
	ErrContactExists      = errors.New("contact already exists")
	ErrEmptyNickname      = errors.New("nickname must not be empty")
	ErrEmptyContent       = errors.New("message content must not be empty")
)
