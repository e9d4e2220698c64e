package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound 表示服务端明确回答"不存在"，和服务端故障严格区分：
// 只有这一类错误才允许写墓碑。
var ErrNotFound = errors.New("not found")

// User 是服务端返回的用户摘要。
type User struct {
	ID       uint   `json:"id"`
	Phone    string `json:"phone_number"`
	Username string `json:"username"`
}

// Contact 是服务端返回的联系人记录。
type Contact struct {
	ID           uint      `json:"id"`
	OwnerID      uint      `json:"owner_id"`
	LinkedUserID *uint     `json:"linked_user_id"`
	Phone        string    `json:"phone_number"`
	Nickname     string    `json:"nickname"`
	AutoCreated  bool      `json:"auto_created,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// REST 是消息服务的 HTTP 客户端。
type REST struct {
	BaseURL string
	HTTP    *http.Client
	token   string
}

func NewREST(baseURL string) *REST {
	return &REST{BaseURL: baseURL, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// SetToken 设置后续请求携带的 Bearer Token。
func (r *REST) SetToken(token string) { r.token = token }

// Token 返回当前的访问令牌。
func (r *REST) Token() string { return r.token }

func (r *REST) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterAccount 注册新账号。
func (r *REST) RegisterAccount(ctx context.Context, phone, username, password string) (*User, error) {
	var out User
	err := r.do(ctx, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"phone_number": phone, "username": username, "password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Login 登录并在客户端内记下访问令牌。
func (r *REST) Login(ctx context.Context, phone, password string) (*User, error) {
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         User   `json:"user"`
	}
	err := r.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"phone_number": phone, "password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	r.token = out.AccessToken
	return &out.User, nil
}

// Me 返回当前用户信息。
func (r *REST) Me(ctx context.Context) (*User, error) {
	var out User
	if err := r.do(ctx, http.MethodGet, "/api/v1/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contacts 拉取通讯录。
func (r *REST) Contacts(ctx context.Context) ([]Contact, error) {
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := r.do(ctx, http.MethodGet, "/api/v1/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// FindContact 按手机号定位单个联系人。
func (r *REST) FindContact(ctx context.Context, phone string) (*Contact, error) {
	var out Contact
	if err := r.do(ctx, http.MethodGet, "/api/v1/contacts?phone="+url.QueryEscape(phone), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddContact 显式添加联系人。
func (r *REST) AddContact(ctx context.Context, phone, nickname string) (*Contact, error) {
	var out Contact
	err := r.do(ctx, http.MethodPost, "/api/v1/contacts", map[string]string{
		"phone_number": phone, "nickname": nickname,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteContact 删除联系人（服务端级联删除双方消息）。
func (r *REST) DeleteContact(ctx context.Context, contactID uint) error {
	return r.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/contacts/%d", contactID), nil, nil)
}

// Conversation 拉取与某联系人的会话，服务端按时间升序返回。
func (r *REST) Conversation(ctx context.Context, contactID uint) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := r.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/messages/conversation/%d", contactID), nil, &out)
	if err != nil {
		return nil, err
	}
	for i := range out.Messages {
		out.Messages[i].Status = StatusDelivered
	}
	return out.Messages, nil
}

// SendMessage 通过 REST 发送消息，实时通道不可用时的回退路径。
func (r *REST) SendMessage(ctx context.Context, receiverID uint, content string) (Message, *Contact, error) {
	var out struct {
		Message            Message  `json:"message"`
		AutoCreatedContact *Contact `json:"auto_created_contact"`
	}
	err := r.do(ctx, http.MethodPost, "/api/v1/messages/send", map[string]any{
		"receiver_id": receiverID, "content": content,
	}, &out)
	if err != nil {
		return Message{}, nil, err
	}
	out.Message.Status = StatusDelivered
	return out.Message, out.AutoCreatedContact, nil
}
