package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ademjemaa/42-push-sub000/internal/auth"
	"github.com/ademjemaa/42-push-sub000/internal/config"
	"github.com/ademjemaa/42-push-sub000/internal/models"
	"github.com/ademjemaa/42-push-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Client struct {
	registry *Registry
	conn     *websocket.Conn
	send     chan []byte
	db       *gorm.DB
	msgSvc   *service.MessageService
	userID   uint
	// registered 只在 readPump 这一个 goroutine 里读写。
	registered bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 升级 WebSocket 连接。连接先通过 token 认证，之后客户端
// 还要显式发 register 事件才会进入会话注册表。
func Serve(reg *Registry, db *gorm.DB, cfg config.Config, msgSvc *service.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Token via Authorization header or token query param for WS
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			registry: reg,
			conn:     conn,
			send:     make(chan []byte, 256),
			db:       db,
			msgSvc:   msgSvc,
			userID:   user.ID,
		}
		go client.writePump()
		client.readPump()
	}
}

// enqueue 把事件排进本连接的发送缓冲，满了就丢弃。
func (c *Client) enqueue(event any) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.registry.Remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "register":
			c.handleRegister(in)
		case "privateMessage":
			c.handlePrivateMessage(in)
		case "typing":
			c.handleTyping(in)
		}
	}
}

// handleRegister 校验用户后把会话写入注册表。注册 id 必须能解析
// 到真实用户行，挡掉已删除账号残留的幽灵会话。
func (c *Client) handleRegister(in Inbound) {
	if in.UserID == 0 || in.UserID != c.userID {
		c.enqueue(SocketError{Type: "socket_error", Error: "user id does not match session"})
		return
	}
	var user models.User
	if err := c.db.First(&user, in.UserID).Error; err != nil {
		c.enqueue(SocketError{Type: "socket_error", Error: "user not found"})
		return
	}
	c.registry.Register(user.ID, c)
	c.registered = true
	c.enqueue(RegisterSuccess{Type: "register_success", UserID: user.ID})
}

func (c *Client) handlePrivateMessage(in Inbound) {
	if !c.registered {
		c.enqueue(SocketError{Type: "socket_error", Error: "not registered"})
		return
	}
	res, err := c.msgSvc.Send(c.userID, in.ReceiverID, in.Content)
	if err != nil {
		msg := "failed to send message"
		if errors.Is(err, service.ErrUserNotFound) {
			msg = "user not found"
		} else if errors.Is(err, service.ErrEmptyContent) {
			msg = "empty message"
		} else {
			log.Error().Err(err).Uint("sender_id", c.userID).Uint("receiver_id", in.ReceiverID).Msg("ws send")
		}
		c.enqueue(MessageError{Type: "message_error", Error: msg, TempID: in.TempID})
		return
	}
	// 去重命中的重复提交只补确认，不再二次转发。
	if !res.Duplicate {
		DeliverNew(c.registry, res)
	}
	c.enqueue(MessageSent{Type: "message_sent", Message: res.Message, TempID: in.TempID})
}

// handleTyping 把输入状态转发给在线的对方，不落库。
func (c *Client) handleTyping(in Inbound) {
	if !c.registered {
		return
	}
	c.registry.Forward(in.ReceiverID, Typing{Type: "typing", SenderID: c.userID, IsTyping: in.IsTyping})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
