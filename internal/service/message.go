package service

import (
	"errors"
	"time"

	"github.com/ademjemaa/42-push-sub000/internal/metrics"
	"github.com/ademjemaa/42-push-sub000/internal/models"

	"gorm.io/gorm"
)

// 同一发送方在这个窗口内重复提交相同内容视为同一次逻辑发送。
// 实时通道和 REST 短时间内重复提交同一条消息时靠它保证只落一行。
const dedupWindow = time.Second

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db       *gorm.DB
	contacts *ContactService
}

func NewMessageService(db *gorm.DB, contacts *ContactService) *MessageService {
	return &MessageService{db: db, contacts: contacts}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID         uint      `json:"id"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"timestamp"`
}

func msgToDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

// SendResult 是一次发送的完整结果。实时转发需要 Sender 的
// 手机号和显示名，接收方客户端此刻可能还没有对应联系人。
type SendResult struct {
	Message     MessageDTO
	Sender      UserSummary
	AutoContact *ContactDTO
	Duplicate   bool
}

// Send 持久化一条私信并保证接收方通讯录里有发送方的条目。
// 实时通道和 REST 端点都走这一条路径。
func (s *MessageService) Send(senderID, receiverID uint, content string) (*SendResult, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	var sender, receiver models.User
	if err := s.db.First(&sender, senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.db.First(&receiver, receiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	result := SendResult{
		Sender: UserSummary{ID: sender.ID, Phone: sender.Phone, Username: sender.Username},
	}

	// 去重窗口内的相同发送直接返回已有行，不再落库。
	var existing models.Message
	err := s.db.Where(
		"sender_id = ? AND receiver_id = ? AND content = ? AND created_at >= ?",
		senderID, receiverID, content, time.Now().Add(-dedupWindow),
	).Order("id desc").First(&existing).Error
	if err == nil {
		result.Message = msgToDTO(&existing)
		result.Duplicate = true
		return &result, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	msg := models.Message{SenderID: senderID, ReceiverID: receiverID, Content: content}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	metrics.MessagesTotal.Inc()

	auto, created, err := s.contacts.EnsureForSender(receiverID, &sender)
	if err != nil {
		return nil, err
	}
	if created {
		result.AutoContact = auto
	}
	result.Message = msgToDTO(&msg)
	return &result, nil
}

// Conversation 返回 owner 与指定联系人之间的消息，按时间升序，
// 并顺带把对方发来的未读消息标记为已读。
func (s *MessageService) Conversation(ownerID, contactID uint) ([]MessageDTO, error) {
	contact, err := s.contacts.Get(ownerID, contactID)
	if err != nil {
		return nil, err
	}
	if contact.LinkedUserID == nil {
		// 对方还没注册，不可能有消息。
		return []MessageDTO{}, nil
	}
	peer := *contact.LinkedUserID

	var msgs []models.Message
	err = s.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		ownerID, peer, peer, ownerID,
	).Order("created_at asc, id asc").Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	err = s.db.Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", peer, ownerID, false).
		Update("is_read", true).Error
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		dto := msgToDTO(&msgs[i])
		if dto.SenderID == peer {
			dto.Read = true
		}
		out = append(out, dto)
	}
	return out, nil
}
