package service

import (
	"errors"
	"regexp"
	"time"

	"github.com/ademjemaa/42-push-sub000/internal/auth"
	"github.com/ademjemaa/42-push-sub000/internal/config"
	"github.com/ademjemaa/42-push-sub000/internal/models"

	"gorm.io/gorm"
)

// 手机号格式：前导 0 加 9 位数字。
var phoneRe = regexp.MustCompile(`^0\d{9}$`)

// ValidPhone 报告手机号是否符合注册格式。
func ValidPhone(p string) bool { return phoneRe.MatchString(p) }

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// UserSummary 是对外输出的用户数据。
type UserSummary struct {
	ID       uint   `json:"id"`
	Phone    string `json:"phone_number"`
	Username string `json:"username"`
}

// Register 注册新用户。手机号非法或已注册时拒绝，绝不落库。
func (s *UserService) Register(phone, username, password string) (*UserSummary, error) {
	if !ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}
	var count int64
	if err := s.db.Model(&models.User{}).Where("phone = ?", phone).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrPhoneTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Phone: phone, Username: username, PasswordHash: hash}
	if err := s.db.Create(&user).Error; err != nil {
		// 并发注册同一手机号时唯一索引兜底。
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrPhoneTaken
		}
		return nil, err
	}
	return &UserSummary{ID: user.ID, Phone: user.Phone, Username: user.Username}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"-"`
}

// Login 校验手机号密码并签发 token 对。
func (s *UserService) Login(phone, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("phone = ?", phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: user}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Get 按 ID 查找用户。
func (s *UserService) Get(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile 修改显示名。
func (s *UserService) UpdateProfile(userID uint, username string) (*UserSummary, error) {
	user, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(user).Update("username", username).Error; err != nil {
		return nil, err
	}
	return &UserSummary{ID: user.ID, Phone: user.Phone, Username: username}, nil
}

// SetAvatar 覆盖用户头像。
func (s *UserService) SetAvatar(userID uint, blob []byte) error {
	res := s.db.Model(&models.User{}).Where("id = ?", userID).Update("avatar", blob)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Avatar 返回用户头像，未设置时返回空切片。
func (s *UserService) Avatar(userID uint) ([]byte, error) {
	user, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	return user.Avatar, nil
}
