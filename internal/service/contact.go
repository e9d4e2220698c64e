package service

import (
	"errors"
	"time"

	"github.com/ademjemaa/42-push-sub000/internal/metrics"
	"github.com/ademjemaa/42-push-sub000/internal/models"

	"gorm.io/gorm"
)

// ContactService 封装通讯录相关的业务逻辑，包括隐式自动创建
// 和 linked_user_id 的延迟回填。
type ContactService struct {
	db *gorm.DB
}

func NewContactService(db *gorm.DB) *ContactService {
	return &ContactService{db: db}
}

// ContactDTO 是对外输出的联系人数据。AutoCreated 只出现在
// 收到陌生号码消息时服务端推送的载荷里，不落库。
type ContactDTO struct {
	ID           uint      `json:"id"`
	OwnerID      uint      `json:"owner_id"`
	LinkedUserID *uint     `json:"linked_user_id"`
	Phone        string    `json:"phone_number"`
	Nickname     string    `json:"nickname"`
	AutoCreated  bool      `json:"auto_created,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toDTO(c *models.Contact) *ContactDTO {
	return &ContactDTO{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		LinkedUserID: c.LinkedUserID,
		Phone:        c.Phone,
		Nickname:     c.Nickname,
		CreatedAt:    c.CreatedAt,
	}
}

// backfillLink 对 linked_user_id 为 NULL 的联系人按手机号补查用户表，
// 命中则持久化。联系人可能先于对方注册而存在，链接必须能自愈。
func (s *ContactService) backfillLink(c *models.Contact) {
	if c.LinkedUserID != nil {
		return
	}
	var user models.User
	if err := s.db.Select("id").Where("phone = ?", c.Phone).First(&user).Error; err != nil {
		return
	}
	if err := s.db.Model(c).Update("linked_user_id", user.ID).Error; err == nil {
		c.LinkedUserID = &user.ID
	}
}

// List 返回用户的全部联系人，顺带回填缺失的链接。
func (s *ContactService) List(ownerID uint) ([]ContactDTO, error) {
	var contacts []models.Contact
	if err := s.db.Where("owner_id = ?", ownerID).Order("nickname asc").Find(&contacts).Error; err != nil {
		return nil, err
	}
	out := make([]ContactDTO, 0, len(contacts))
	for i := range contacts {
		s.backfillLink(&contacts[i])
		out = append(out, *toDTO(&contacts[i]))
	}
	return out, nil
}

// Get 按 ID 查找联系人并校验归属。
func (s *ContactService) Get(ownerID, contactID uint) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.Where("id = ? AND owner_id = ?", contactID, ownerID).First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	s.backfillLink(&contact)
	return &contact, nil
}

// ResolveByPhone 按手机号查找联系人。格式校验先于任何查询。
func (s *ContactService) ResolveByPhone(ownerID uint, phone string) (*ContactDTO, error) {
	if !ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}
	var contact models.Contact
	err := s.db.Where("owner_id = ? AND phone = ?", ownerID, phone).First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	s.backfillLink(&contact)
	return toDTO(&contact), nil
}

// Add 显式添加联系人。创建时立即尝试链接已注册用户。
func (s *ContactService) Add(ownerID uint, phone, nickname string) (*ContactDTO, error) {
	if !ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}
	if nickname == "" {
		return nil, ErrEmptyNickname
	}
	contact := models.Contact{OwnerID: ownerID, Phone: phone, Nickname: nickname}
	var user models.User
	if err := s.db.Select("id").Where("phone = ?", phone).First(&user).Error; err == nil {
		contact.LinkedUserID = &user.ID
	}
	if err := s.db.Create(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrContactExists
		}
		return nil, err
	}
	return toDTO(&contact), nil
}

// Update 修改联系人昵称。
func (s *ContactService) Update(ownerID, contactID uint, nickname string) (*ContactDTO, error) {
	if nickname == "" {
		return nil, ErrEmptyNickname
	}
	contact, err := s.Get(ownerID, contactID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(contact).Update("nickname", nickname).Error; err != nil {
		return nil, err
	}
	contact.Nickname = nickname
	return toDTO(contact), nil
}

// SetAvatar 覆盖联系人的头像（本地备注头像，不影响对方账号）。
func (s *ContactService) SetAvatar(ownerID, contactID uint, blob []byte) error {
	contact, err := s.Get(ownerID, contactID)
	if err != nil {
		return err
	}
	return s.db.Model(contact).Update("avatar", blob).Error
}

// Delete 删除联系人，并级联删除双方之间的全部消息。
// 只清理 owner 与 linked user 这一对，不波及其他会话。
func (s *ContactService) Delete(ownerID, contactID uint) error {
	contact, err := s.Get(ownerID, contactID)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if contact.LinkedUserID != nil {
			peer := *contact.LinkedUserID
			err := tx.Where(
				"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				ownerID, peer, peer, ownerID,
			).Delete(&models.Message{}).Error
			if err != nil {
				return err
			}
		}
		return tx.Delete(contact).Error
	})
}

// EnsureForSender 保证 receiver 的通讯录里有指向 sender 的条目，
// 没有则用 sender 的手机号自动创建（昵称同样默认为手机号）。
// 两个发送者同时首次私聊同一接收者时，插入可能撞上唯一索引，
// 失败方重读胜者的行即可，不是致命错误。
func (s *ContactService) EnsureForSender(receiverID uint, sender *models.User) (*ContactDTO, bool, error) {
	var contact models.Contact
	err := s.db.Where("owner_id = ? AND linked_user_id = ?", receiverID, sender.ID).First(&contact).Error
	if err == nil {
		return toDTO(&contact), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	// 同号码的未链接条目先回填，不新建。
	err = s.db.Where("owner_id = ? AND phone = ?", receiverID, sender.Phone).First(&contact).Error
	if err == nil {
		s.backfillLink(&contact)
		return toDTO(&contact), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	contact = models.Contact{
		OwnerID:      receiverID,
		LinkedUserID: &sender.ID,
		Phone:        sender.Phone,
		Nickname:     sender.Phone,
	}
	if err := s.db.Create(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var winner models.Contact
			if err2 := s.db.Where("owner_id = ? AND phone = ?", receiverID, sender.Phone).First(&winner).Error; err2 != nil {
				return nil, false, err2
			}
			s.backfillLink(&winner)
			return toDTO(&winner), false, nil
		}
		return nil, false, err
	}
	metrics.ContactsAutoCreated.Inc()
	dto := toDTO(&contact)
	dto.AutoCreated = true
	return dto, true, nil
}
