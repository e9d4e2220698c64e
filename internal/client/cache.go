package client

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status 是客户端本地的消息状态，服务端模型里不存在。
type Status string

const (
	// StatusPending 乐观插入，还没拿到服务端确认，携带临时 id。
	StatusPending Status = "pending"
	// StatusDelivered 服务端已确认，临时 id 已换成服务端 id。
	StatusDelivered Status = "delivered"
	// StatusFailed 限时内没等到确认，或收到了明确的错误信号。
	StatusFailed Status = "failed"
)

// Message 是会话缓存里的一条记录。
type Message struct {
	ID         uint      `json:"id,omitempty"`
	TempID     string    `json:"temp_id,omitempty"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`
}

// MergeOutcome 描述一次合并对列表产生的影响。
type MergeOutcome int

const (
	// MergeAppended 没有匹配项，追加了一条新记录。
	MergeAppended MergeOutcome = iota
	// MergeReplaced 按临时 id 或服务端 id 原位替换了已有记录。
	MergeReplaced
	// MergeDeduplicated 按内容加时间近邻判定为重复，已有记录被更新。
	MergeDeduplicated
)

// 内容相同且时间戳相差一秒以内视为同一条逻辑消息。没有这条规则，
// 乐观插入和服务端实时转发会让同一条消息出现两次。
const dedupTolerance = time.Second

// ConversationCache 按联系人 id 维护会话消息列表，把乐观插入、
// 实时推送、REST 拉取三个来源合并成一份去重后的有序视图。
// 同一条服务端消息可能经 REST 响应和实时推送各到达一次，顺序
// 不定，所以合并必须幂等。
type ConversationCache struct {
	mu    sync.Mutex
	convs map[uint][]Message
}

func NewConversationCache() *ConversationCache {
	return &ConversationCache{convs: make(map[uint][]Message)}
}

// AppendPending 乐观插入一条待确认消息并返回它（含生成的临时 id）。
func (c *ConversationCache) AppendPending(contactID, senderID, receiverID uint, content string) Message {
	m := Message{
		TempID:     "temp-" + uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now(),
		Status:     StatusPending,
	}
	c.mu.Lock()
	c.convs[contactID] = append(c.convs[contactID], m)
	c.resort(contactID)
	c.mu.Unlock()
	return m
}

// Merge 把一条服务端记录合并进会话。匹配顺序：临时 id 原位替换、
// 服务端 id 幂等替换、(内容, 时间近邻) 去重，都落空才追加。
// 每次合并后重排：实时推送和 REST 拉取可能乱序交错到达。
func (c *ConversationCache) Merge(contactID uint, incoming Message) MergeOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.convs[contactID]

	if incoming.TempID != "" {
		for i := range list {
			if list[i].TempID == incoming.TempID {
				list[i] = incoming
				c.resort(contactID)
				return MergeReplaced
			}
		}
	}
	if incoming.ID != 0 {
		for i := range list {
			if list[i].ID == incoming.ID {
				list[i] = incoming
				c.resort(contactID)
				return MergeReplaced
			}
		}
	}
	for i := range list {
		if list[i].Content == incoming.Content &&
			list[i].SenderID == incoming.SenderID &&
			absDuration(list[i].Timestamp.Sub(incoming.Timestamp)) <= dedupTolerance {
			list[i] = incoming
			c.resort(contactID)
			return MergeDeduplicated
		}
	}
	c.convs[contactID] = append(list, incoming)
	c.resort(contactID)
	return MergeAppended
}

// MergeAll 合并一次 REST 拉取的结果。
func (c *ConversationCache) MergeAll(contactID uint, msgs []Message) {
	for _, m := range msgs {
		c.Merge(contactID, m)
	}
}

// MarkFailed 把一条待确认消息标记为失败。确认在超时之后才到时
// 返回 false，消息保持已送达状态不回退。
func (c *ConversationCache) MarkFailed(contactID uint, tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.convs[contactID] {
		if m.TempID == tempID && m.Status == StatusPending {
			c.convs[contactID][i].Status = StatusFailed
			return true
		}
	}
	return false
}

// MarkPending 把一条失败消息拉回待确认，供手动重试。
func (c *ConversationCache) MarkPending(contactID uint, tempID string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.convs[contactID] {
		if m.TempID == tempID && m.Status == StatusFailed {
			c.convs[contactID][i].Status = StatusPending
			c.convs[contactID][i].Timestamp = time.Now()
			return c.convs[contactID][i], true
		}
	}
	return Message{}, false
}

// Messages 返回会话消息的副本，按时间升序。
func (c *ConversationCache) Messages(contactID uint) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.convs[contactID]))
	copy(out, c.convs[contactID])
	return out
}

// Len 返回会话里的消息条数。
func (c *ConversationCache) Len(contactID uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.convs[contactID])
}

// Drop 丢弃整个会话，联系人删除后调用。
func (c *ConversationCache) Drop(contactID uint) {
	c.mu.Lock()
	delete(c.convs, contactID)
	c.mu.Unlock()
}

// resort 调用方必须持有锁。
func (c *ConversationCache) resort(contactID uint) {
	list := c.convs[contactID]
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].ID < list[j].ID
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
