package ws

import (
	"encoding/json"
	"sync"

	"github.com/ademjemaa/42-push-sub000/internal/metrics"
)

// Registry 维护 user id → 活跃会话的映射，归服务器进程所有。
// 只存在内存里，重启后从零重建：重启瞬间"看似在线"的接收方
// 收不到实时转发，等下次拉取会话时自然补上，这是有意为之。
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint]*Client
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint]*Client)}
}

// Register 绑定用户与会话。同一用户重复注册时新会话顶替旧会话，
// 旧连接断开时不会误删新条目（Remove 按会话指针匹配）。
func (r *Registry) Register(userID uint, c *Client) {
	r.mu.Lock()
	if _, ok := r.sessions[userID]; !ok {
		metrics.WsSessions.Inc()
	}
	r.sessions[userID] = c
	r.mu.Unlock()
}

// Remove 清除属于该会话的所有条目。
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	for uid, sess := range r.sessions {
		if sess == c {
			delete(r.sessions, uid)
			metrics.WsSessions.Dec()
		}
	}
	r.mu.Unlock()
}

// Lookup 返回用户的活跃会话。
func (r *Registry) Lookup(userID uint) (*Client, bool) {
	r.mu.RLock()
	c, ok := r.sessions[userID]
	r.mu.RUnlock()
	return c, ok
}

// Online 报告用户是否有活跃会话。
func (r *Registry) Online(userID uint) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count 返回当前注册的会话数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Forward 把事件发给指定用户的会话，接收方不在线或发送缓冲已满
// 时返回 false。不重试不排队，离线投递完全交给下一次会话拉取。
func (r *Registry) Forward(userID uint, event any) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	b, err := json.Marshal(event)
	if err != nil {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}
