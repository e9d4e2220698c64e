package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// NewMessageEvent 是服务端转发来的他人消息。发送方可能还不在
// 本地通讯录里，所以事件带着手机号和显示名。
type NewMessageEvent struct {
	Message            Message  `json:"message"`
	SenderPhone        string   `json:"sender_phone"`
	SenderUsername     string   `json:"sender_username"`
	AutoCreatedContact *Contact `json:"auto_created_contact"`
}

// MessageSentEvent 是本端发送的投递确认。
type MessageSentEvent struct {
	Message Message `json:"message"`
	TempID  string  `json:"temp_id"`
}

// MessageErrorEvent 是一次发送的类型化错误。
type MessageErrorEvent struct {
	Error  string `json:"error"`
	TempID string `json:"temp_id"`
}

// envelope 是实时通道的线格式，type 决定其余字段。
type envelope struct {
	Type               string   `json:"type"`
	UserID             uint     `json:"user_id,omitempty"`
	ReceiverID         uint     `json:"receiver_id,omitempty"`
	Content            string   `json:"content,omitempty"`
	TempID             string   `json:"temp_id,omitempty"`
	Error              string   `json:"error,omitempty"`
	IsTyping           bool     `json:"is_typing,omitempty"`
	SenderID           uint     `json:"sender_id,omitempty"`
	Message            *Message `json:"message,omitempty"`
	SenderPhone        string   `json:"sender_phone,omitempty"`
	SenderUsername     string   `json:"sender_username,omitempty"`
	AutoCreatedContact *Contact `json:"auto_created_contact,omitempty"`
}

// Realtime 是实时通道客户端：连接、注册、收事件、发私信。
type Realtime struct {
	baseURL string
	token   string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	onNewMessage   []func(NewMessageEvent)
	onMessageSent  []func(MessageSentEvent)
	onMessageError []func(MessageErrorEvent)
	onSocketError  []func(string)
	onTyping       []func(senderID uint, isTyping bool)
}

func NewRealtime(baseURL, token string) *Realtime {
	return &Realtime{baseURL: baseURL, token: token}
}

func (rt *Realtime) OnNewMessage(h func(NewMessageEvent)) {
	rt.mu.Lock()
	rt.onNewMessage = append(rt.onNewMessage, h)
	rt.mu.Unlock()
}

func (rt *Realtime) OnMessageSent(h func(MessageSentEvent)) {
	rt.mu.Lock()
	rt.onMessageSent = append(rt.onMessageSent, h)
	rt.mu.Unlock()
}

func (rt *Realtime) OnMessageError(h func(MessageErrorEvent)) {
	rt.mu.Lock()
	rt.onMessageError = append(rt.onMessageError, h)
	rt.mu.Unlock()
}

func (rt *Realtime) OnSocketError(h func(string)) {
	rt.mu.Lock()
	rt.onSocketError = append(rt.onSocketError, h)
	rt.mu.Unlock()
}

func (rt *Realtime) OnTyping(h func(senderID uint, isTyping bool)) {
	rt.mu.Lock()
	rt.onTyping = append(rt.onTyping, h)
	rt.mu.Unlock()
}

// Connected 报告实时通道是否可用。
func (rt *Realtime) Connected() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.connected
}

// wsURL 把 http(s) 基地址改写成带 token 的 ws(s) 地址。
func (rt *Realtime) wsURL() (string, error) {
	u, err := url.Parse(rt.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", rt.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect 建立连接并发送 register 事件，register_success 到达前
// 一直阻塞（受 ctx 限时）。成功后读循环在后台跑到连接断开。
func (rt *Realtime) Connect(ctx context.Context, userID uint) error {
	wsURL, err := rt.wsURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)

	if err := writeJSON(ctx, conn, envelope{Type: "register", UserID: userID}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		return err
	}
	// 等注册结果，中间到达的其他事件照常分发。
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "register failed")
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == "register_success" {
			break
		}
		if env.Type == "socket_error" {
			_ = conn.Close(websocket.StatusNormalClosure, "rejected")
			return errors.New("registration rejected: " + env.Error)
		}
		rt.dispatch(env)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.connected = true
	rt.mu.Unlock()

	go rt.readLoop(conn)
	return nil
}

// SendPrivate 通过实时通道发送私信。确认会以 message_sent 事件
// 异步到达，这里只负责发出去。
func (rt *Realtime) SendPrivate(ctx context.Context, receiverID uint, content, tempID string) error {
	rt.mu.Lock()
	conn := rt.conn
	ok := rt.connected
	rt.mu.Unlock()
	if !ok {
		return errors.New("realtime channel not connected")
	}
	return writeJSON(ctx, conn, envelope{
		Type:       "privateMessage",
		ReceiverID: receiverID,
		Content:    content,
		TempID:     tempID,
	})
}

// SendTyping 上报输入状态。
func (rt *Realtime) SendTyping(ctx context.Context, receiverID uint, isTyping bool) error {
	rt.mu.Lock()
	conn := rt.conn
	ok := rt.connected
	rt.mu.Unlock()
	if !ok {
		return errors.New("realtime channel not connected")
	}
	return writeJSON(ctx, conn, envelope{Type: "typing", ReceiverID: receiverID, IsTyping: isTyping})
}

// Close 关闭实时通道。
func (rt *Realtime) Close() error {
	rt.mu.Lock()
	conn := rt.conn
	rt.conn = nil
	rt.connected = false
	rt.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

func (rt *Realtime) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			if rt.conn == conn {
				rt.conn = nil
				rt.connected = false
			}
			rt.mu.Unlock()
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		rt.dispatch(env)
	}
}

func (rt *Realtime) dispatch(env envelope) {
	rt.mu.Lock()
	newMsg := rt.onNewMessage
	sent := rt.onMessageSent
	msgErr := rt.onMessageError
	sockErr := rt.onSocketError
	typing := rt.onTyping
	rt.mu.Unlock()

	switch env.Type {
	case "newMessage":
		if env.Message == nil {
			return
		}
		evt := NewMessageEvent{
			Message:            *env.Message,
			SenderPhone:        env.SenderPhone,
			SenderUsername:     env.SenderUsername,
			AutoCreatedContact: env.AutoCreatedContact,
		}
		evt.Message.Status = StatusDelivered
		for _, h := range newMsg {
			h(evt)
		}
	case "message_sent":
		if env.Message == nil {
			return
		}
		evt := MessageSentEvent{Message: *env.Message, TempID: env.TempID}
		evt.Message.Status = StatusDelivered
		evt.Message.TempID = env.TempID
		for _, h := range sent {
			h(evt)
		}
	case "message_error":
		for _, h := range msgErr {
			h(MessageErrorEvent{Error: env.Error, TempID: env.TempID})
		}
	case "socket_error":
		for _, h := range sockErr {
			h(env.Error)
		}
	case "typing":
		for _, h := range typing {
			h(env.SenderID, env.IsTyping)
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}
