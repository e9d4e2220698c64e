package ws

import (
	"github.com/ademjemaa/42-push-sub000/internal/metrics"
	"github.com/ademjemaa/42-push-sub000/internal/service"
)

// Inbound 是客户端发来的事件。type 决定哪些字段有意义。
type Inbound struct {
	Type       string `json:"type"`
	UserID     uint   `json:"user_id,omitempty"`
	ReceiverID uint   `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`
	TempID     string `json:"temp_id,omitempty"`
	IsTyping   bool   `json:"is_typing,omitempty"`
}

type RegisterSuccess struct {
	Type   string `json:"type"`
	UserID uint   `json:"user_id"`
}

type SocketError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type MessageError struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	TempID string `json:"temp_id,omitempty"`
}

// NewMessage 是投递给接收方的事件。接收方客户端此刻可能还没有
// 发送方的联系人记录，所以带上手机号和显示名；若这条消息触发了
// 联系人自动创建，载荷一并携带，客户端据此刷新通讯录。
type NewMessage struct {
	Type               string              `json:"type"`
	Message            service.MessageDTO  `json:"message"`
	SenderPhone        string              `json:"sender_phone"`
	SenderUsername     string              `json:"sender_username"`
	AutoCreatedContact *service.ContactDTO `json:"auto_created_contact,omitempty"`
}

// MessageSent 是给发送方的投递确认，和 newMessage 分开，
// 发送方客户端才不会把自己的回声再追加一遍。
type MessageSent struct {
	Type    string             `json:"type"`
	Message service.MessageDTO `json:"message"`
	TempID  string             `json:"temp_id,omitempty"`
}

type Typing struct {
	Type     string `json:"type"`
	SenderID uint   `json:"sender_id"`
	IsTyping bool   `json:"is_typing"`
}

// DeliverNew 把一次发送结果实时转发给在线的接收方。
// REST 发送路径和实时路径共用，保证两条路行为一致。
func DeliverNew(reg *Registry, res *service.SendResult) bool {
	evt := NewMessage{
		Type:           "newMessage",
		Message:        res.Message,
		SenderPhone:    res.Sender.Phone,
		SenderUsername: res.Sender.Username,
	}
	if res.AutoContact != nil {
		evt.AutoCreatedContact = res.AutoContact
	}
	if reg.Forward(res.Message.ReceiverID, evt) {
		metrics.MessagesForwarded.Inc()
		return true
	}
	return false
}
