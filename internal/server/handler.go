package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ademjemaa/42-push-sub000/internal/auth"
	"github.com/ademjemaa/42-push-sub000/internal/service"
	"github.com/ademjemaa/42-push-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxAvatarBytes = 2 << 20 // 2MB

// Handler 聚合所有 HTTP handler，依赖注入 service 层和会话注册表。
type Handler struct {
	userSvc    *service.UserService
	contactSvc *service.ContactService
	msgSvc     *service.MessageService
	registry   *ws.Registry
}

func NewHandler(userSvc *service.UserService, contactSvc *service.ContactService, msgSvc *service.MessageService, registry *ws.Registry) *Handler {
	return &Handler{userSvc: userSvc, contactSvc: contactSvc, msgSvc: msgSvc, registry: registry}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Phone    string `json:"phone_number"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Phone, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		case errors.Is(err, service.ErrPhoneTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "phone number already registered"})
		default:
			log.Error().Err(err).Str("phone", req.Phone).Msg("register")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Phone    string `json:"phone_number"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Phone, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("phone", req.Phone).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "phone_number": result.User.Phone, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Me 返回当前用户信息。
func (h *Handler) Me(c *gin.Context) {
	user, err := h.userSvc.Get(auth.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "phone_number": user.Phone, "username": user.Username})
}

// UpdateMe 修改当前用户的显示名。
func (h *Handler) UpdateMe(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	result, err := h.userSvc.UpdateProfile(auth.GetUserID(c), req.Username)
	if err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetAvatar 返回当前用户头像。
func (h *Handler) GetAvatar(c *gin.Context) {
	blob, err := h.userSvc.Avatar(auth.GetUserID(c))
	if err != nil || len(blob) == 0 {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(blob), blob)
}

// SetAvatar 覆盖当前用户头像。
func (h *Handler) SetAvatar(c *gin.Context) {
	blob, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAvatarBytes+1))
	if err != nil || len(blob) == 0 || len(blob) > maxAvatarBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid avatar"})
		return
	}
	if err := h.userSvc.SetAvatar(auth.GetUserID(c), blob); err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("set avatar")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store avatar"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListContacts 返回当前用户的通讯录。带 phone 查询参数时
// 按手机号定位单个联系人。
func (h *Handler) ListContacts(c *gin.Context) {
	if phone := c.Query("phone"); phone != "" {
		contact, err := h.contactSvc.ResolveByPhone(auth.GetUserID(c), phone)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidPhone):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
			case errors.Is(err, service.ErrContactNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			default:
				log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("resolve contact")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve contact"})
			}
			return
		}
		c.JSON(http.StatusOK, contact)
		return
	}
	contacts, err := h.contactSvc.List(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("list contacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// AddContact 显式添加联系人。
func (h *Handler) AddContact(c *gin.Context) {
	var req struct {
		Phone    string `json:"phone_number"`
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	contact, err := h.contactSvc.Add(auth.GetUserID(c), req.Phone, strings.TrimSpace(req.Nickname))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		case errors.Is(err, service.ErrEmptyNickname):
			c.JSON(http.StatusBadRequest, gin.H{"error": "nickname must not be empty"})
		case errors.Is(err, service.ErrContactExists):
			c.JSON(http.StatusConflict, gin.H{"error": "contact already exists"})
		default:
			log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Msg("add contact")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add contact"})
		}
		return
	}
	c.JSON(http.StatusOK, contact)
}

// UpdateContact 修改联系人昵称。
func (h *Handler) UpdateContact(c *gin.Context) {
	contactID, err := strconv.Atoi(c.Param("id"))
	if err != nil || contactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	contact, err := h.contactSvc.Update(auth.GetUserID(c), uint(contactID), strings.TrimSpace(req.Nickname))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyNickname):
			c.JSON(http.StatusBadRequest, gin.H{"error": "nickname must not be empty"})
		case errors.Is(err, service.ErrContactNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		default:
			log.Error().Err(err).Int("contact_id", contactID).Msg("update contact")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update contact"})
		}
		return
	}
	c.JSON(http.StatusOK, contact)
}

// DeleteContact 删除联系人并级联删除双方消息。
func (h *Handler) DeleteContact(c *gin.Context) {
	contactID, err := strconv.Atoi(c.Param("id"))
	if err != nil || contactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	if err := h.contactSvc.Delete(auth.GetUserID(c), uint(contactID)); err != nil {
		if errors.Is(err, service.ErrContactNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			return
		}
		log.Error().Err(err).Int("contact_id", contactID).Msg("delete contact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete contact"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetContactAvatar 返回联系人的本地备注头像。
func (h *Handler) GetContactAvatar(c *gin.Context) {
	contactID, err := strconv.Atoi(c.Param("id"))
	if err != nil || contactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	contact, err := h.contactSvc.Get(auth.GetUserID(c), uint(contactID))
	if err != nil || len(contact.Avatar) == 0 {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(contact.Avatar), contact.Avatar)
}

// SetContactAvatar 覆盖联系人的本地备注头像，不影响对方账号。
func (h *Handler) SetContactAvatar(c *gin.Context) {
	contactID, err := strconv.Atoi(c.Param("id"))
	if err != nil || contactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	blob, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAvatarBytes+1))
	if err != nil || len(blob) == 0 || len(blob) > maxAvatarBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid avatar"})
		return
	}
	if err := h.contactSvc.SetAvatar(auth.GetUserID(c), uint(contactID), blob); err != nil {
		if errors.Is(err, service.ErrContactNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			return
		}
		log.Error().Err(err).Int("contact_id", contactID).Msg("set contact avatar")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store avatar"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Conversation 返回与指定联系人的会话，升序排列，
// 并把对方发来的未读消息标记为已读。
func (h *Handler) Conversation(c *gin.Context) {
	contactID, err := strconv.Atoi(c.Param("contactId"))
	if err != nil || contactID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return
	}
	msgs, err := h.msgSvc.Conversation(auth.GetUserID(c), uint(contactID))
	if err != nil {
		if errors.Is(err, service.ErrContactNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			return
		}
		log.Error().Err(err).Int("contact_id", contactID).Msg("conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage 通过 REST 发送私信。和实时路径共用同一条服务端
// 逻辑，接收方在线时同样会收到实时转发。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ReceiverID uint   `json:"receiver_id"`
		Content    string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ReceiverID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.msgSvc.Send(auth.GetUserID(c), req.ReceiverID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			log.Error().Err(err).Uint("receiver_id", req.ReceiverID).Msg("send message")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}
	if !res.Duplicate {
		ws.DeliverNew(h.registry, res)
	}
	out := gin.H{"message": res.Message}
	if res.AutoContact != nil {
		out["auto_created_contact"] = res.AutoContact
	}
	c.JSON(http.StatusOK, out)
}
