package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ackTimeout 是等待服务端确认的上限，超时的待确认消息判为失败。
const ackTimeout = 10 * time.Second

// pendingSend 记录一条在途消息的归属会话和超时定时器。
type pendingSend struct {
	contactID uint
	timer     *time.Timer
}

// Messenger 把 REST 客户端、实时通道、会话缓存和墓碑缓存组装成
// 一个完整的消息端：乐观发送、确认对账、离线回退、删除联系人
// 后的本地短路。
type Messenger struct {
	rest     *REST
	realtime *Realtime
	cache    *ConversationCache
	tombs    *TombstoneCache

	mu       sync.Mutex
	self     User
	contacts map[uint]Contact // 联系人 id -> 记录
	byUser   map[uint]uint    // 对端用户 id -> 联系人 id
	byPhone  map[string]uint  // 手机号 -> 联系人 id
	pending  map[string]pendingSend

	onContactsChanged func()
	onConversation    func(contactID uint)
}

// NewMessenger 组装一个消息端。realtime 可为 nil，此时所有发送都
// 走 REST 回退路径。
func NewMessenger(rest *REST, realtime *Realtime, tombs *TombstoneCache) *Messenger {
	m := &Messenger{
		rest:     rest,
		realtime: realtime,
		cache:    NewConversationCache(),
		tombs:    tombs,
		contacts: make(map[uint]Contact),
		byUser:   make(map[uint]uint),
		byPhone:  make(map[string]uint),
		pending:  make(map[string]pendingSend),
	}
	if realtime != nil {
		realtime.OnMessageSent(m.handleSent)
		realtime.OnMessageError(m.handleError)
		realtime.OnNewMessage(m.handleNew)
	}
	return m
}

// OnContactsChanged 注册通讯录变化回调。服务端在转发消息时可能
// 替收件人自动建联系人，客户端靠这个回调刷新列表。
func (m *Messenger) OnContactsChanged(h func()) {
	m.mu.Lock()
	m.onContactsChanged = h
	m.mu.Unlock()
}

// OnConversation 注册会话内容变化回调，参数是联系人 id。
func (m *Messenger) OnConversation(h func(contactID uint)) {
	m.mu.Lock()
	m.onConversation = h
	m.mu.Unlock()
}

// Cache 暴露底层会话缓存，只读用途。
func (m *Messenger) Cache() *ConversationCache { return m.cache }

// Login 登录并连接实时通道。实时通道连不上不算失败，发送会走
// REST 回退。
func (m *Messenger) Login(ctx context.Context, phone, password string) (*User, error) {
	u, err := m.rest.Login(ctx, phone, password)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.self = *u
	m.mu.Unlock()

	if m.realtime != nil {
		m.realtime.token = m.rest.Token()
		if err := m.realtime.Connect(ctx, u.ID); err != nil {
			m.realtime = nil
		}
	}
	if err := m.RefreshContacts(ctx); err != nil {
		return u, err
	}
	return u, nil
}

// Self 返回当前登录用户。
func (m *Messenger) Self() User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// RefreshContacts 重新拉取通讯录并重建索引。
func (m *Messenger) RefreshContacts(ctx context.Context) error {
	list, err := m.rest.Contacts(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.contacts = make(map[uint]Contact, len(list))
	m.byUser = make(map[uint]uint, len(list))
	m.byPhone = make(map[string]uint, len(list))
	for _, c := range list {
		m.contacts[c.ID] = c
		m.byPhone[c.Phone] = c.ID
		if c.LinkedUserID != nil {
			m.byUser[*c.LinkedUserID] = c.ID
		}
	}
	m.mu.Unlock()
	return nil
}

// Contacts 返回通讯录快照。
func (m *Messenger) Contacts() []Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c)
	}
	return out
}

// Contact 按 id 查联系人。
func (m *Messenger) Contact(contactID uint) (Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[contactID]
	return c, ok
}

// AddContact 添加联系人并清掉同号码的墓碑：重新添加就是明确的
// "它又存在了"信号。
func (m *Messenger) AddContact(ctx context.Context, phone, nickname string) (*Contact, error) {
	c, err := m.rest.AddContact(ctx, phone, nickname)
	if err != nil {
		return nil, err
	}
	m.tombs.RemoveByPhone(phone)
	m.indexContact(*c)
	return c, nil
}

// DeleteContact 删除联系人：服务端级联删除消息，本地丢会话、写墓碑。
func (m *Messenger) DeleteContact(ctx context.Context, contactID uint) error {
	m.mu.Lock()
	c, ok := m.contacts[contactID]
	m.mu.Unlock()

	if err := m.rest.DeleteContact(ctx, contactID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	phone := ""
	if ok {
		phone = c.Phone
	}
	m.tombs.Add(contactID, phone)
	m.cache.Drop(contactID)
	m.mu.Lock()
	delete(m.contacts, contactID)
	if ok {
		delete(m.byPhone, c.Phone)
		if c.LinkedUserID != nil {
			delete(m.byUser, *c.LinkedUserID)
		}
	}
	changed := m.onContactsChanged
	m.mu.Unlock()
	if changed != nil {
		changed()
	}
	return nil
}

// Conversation 返回与某联系人的会话。墓碑命中直接回 ErrNotFound，
// 不发网络请求；服务端 404 则补写墓碑。其余错误返回缓存里已有的
// 内容，离线也能看历史。
func (m *Messenger) Conversation(ctx context.Context, contactID uint) ([]Message, error) {
	if m.tombs.Has(contactID) {
		return nil, ErrNotFound
	}
	msgs, err := m.rest.Conversation(ctx, contactID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.mu.Lock()
			c, ok := m.contacts[contactID]
			m.mu.Unlock()
			phone := ""
			if ok {
				phone = c.Phone
			}
			m.tombs.Add(contactID, phone)
			m.cache.Drop(contactID)
			return nil, ErrNotFound
		}
		return m.cache.Messages(contactID), err
	}
	m.cache.MergeAll(contactID, msgs)
	return m.cache.Messages(contactID), nil
}

// Send 发送一条消息：先乐观入缓存，再走实时通道，通道不可用时
// 回退 REST。返回乐观插入的记录（含临时 id）。
func (m *Messenger) Send(ctx context.Context, contactID uint, content string) (Message, error) {
	m.mu.Lock()
	c, ok := m.contacts[contactID]
	self := m.self
	m.mu.Unlock()
	if !ok {
		return Message{}, ErrNotFound
	}
	if c.LinkedUserID == nil {
		return Message{}, errors.New("contact is not a registered user")
	}
	receiverID := *c.LinkedUserID

	msg := m.cache.AppendPending(contactID, self.ID, receiverID, content)
	m.notifyConversation(contactID)

	if m.realtime != nil && m.realtime.Connected() {
		// 先登记在途记录再发:确认从读循环进来,可能比 SendPrivate
		// 返回更早,登记晚了确认就会落空。
		m.armAckTimer(contactID, msg.TempID)
		if err := m.realtime.SendPrivate(ctx, receiverID, content, msg.TempID); err == nil {
			return msg, nil
		}
		m.disarmAck(msg.TempID)
	}
	return msg, m.sendREST(ctx, contactID, receiverID, msg)
}

// Retry 重试一条失败消息。
func (m *Messenger) Retry(ctx context.Context, contactID uint, tempID string) error {
	msg, ok := m.cache.MarkPending(contactID, tempID)
	if !ok {
		return errors.New("message is not in failed state")
	}
	m.notifyConversation(contactID)
	if m.realtime != nil && m.realtime.Connected() {
		m.armAckTimer(contactID, msg.TempID)
		if err := m.realtime.SendPrivate(ctx, msg.ReceiverID, msg.Content, msg.TempID); err == nil {
			return nil
		}
		m.disarmAck(msg.TempID)
	}
	return m.sendREST(ctx, contactID, msg.ReceiverID, msg)
}

// sendREST 是回退路径：REST 响应本身就是确认，直接按临时 id 对账。
func (m *Messenger) sendREST(ctx context.Context, contactID, receiverID uint, msg Message) error {
	confirmed, auto, err := m.rest.SendMessage(ctx, receiverID, msg.Content)
	if err != nil {
		m.cache.MarkFailed(contactID, msg.TempID)
		m.notifyConversation(contactID)
		return err
	}
	confirmed.TempID = msg.TempID
	m.cache.Merge(contactID, confirmed)
	m.notifyConversation(contactID)
	if auto != nil {
		m.absorbAutoContact(*auto)
	}
	return nil
}

// armAckTimer 给一条在途消息上超时闹钟，确认到达时拆除。
func (m *Messenger) armAckTimer(contactID uint, tempID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.pending[tempID]; ok {
		old.timer.Stop()
	}
	t := time.AfterFunc(ackTimeout, func() {
		m.mu.Lock()
		delete(m.pending, tempID)
		m.mu.Unlock()
		if m.cache.MarkFailed(contactID, tempID) {
			m.notifyConversation(contactID)
		}
	})
	m.pending[tempID] = pendingSend{contactID: contactID, timer: t}
}

// disarmAck 拆除超时闹钟，返回在途记录。
func (m *Messenger) disarmAck(tempID string) (pendingSend, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[tempID]
	if ok {
		p.timer.Stop()
		delete(m.pending, tempID)
	}
	return p, ok
}

func (m *Messenger) handleSent(evt MessageSentEvent) {
	p, ok := m.disarmAck(evt.TempID)
	if !ok {
		// 确认迟到，消息已判失败，留给用户手动重试，不自动翻状态。
		return
	}
	m.cache.Merge(p.contactID, evt.Message)
	m.notifyConversation(p.contactID)
}

func (m *Messenger) handleError(evt MessageErrorEvent) {
	p, ok := m.disarmAck(evt.TempID)
	if !ok {
		return
	}
	if m.cache.MarkFailed(p.contactID, evt.TempID) {
		m.notifyConversation(p.contactID)
	}
}

// handleNew 处理他人消息。发送方解析成联系人；事件里带自动建联
// 信息时吸收它，这意味着对端给我们建了档，我们这边也可能刚建档。
func (m *Messenger) handleNew(evt NewMessageEvent) {
	if evt.AutoCreatedContact != nil {
		m.absorbAutoContact(*evt.AutoCreatedContact)
	}

	m.mu.Lock()
	contactID, ok := m.byUser[evt.Message.SenderID]
	if !ok {
		contactID, ok = m.byPhone[evt.SenderPhone]
	}
	m.mu.Unlock()
	if !ok {
		// 索引里没有：通讯录落后于服务端，促使上层刷新后重查。
		m.notifyContacts()
		return
	}
	m.cache.Merge(contactID, evt.Message)
	m.notifyConversation(contactID)
}

// absorbAutoContact 吸收一条服务端自动建的联系人：清墓碑、入索引、
// 通知上层。
func (m *Messenger) absorbAutoContact(c Contact) {
	m.tombs.RemoveByPhone(c.Phone)
	m.tombs.Remove(c.ID)
	m.indexContact(c)
}

func (m *Messenger) indexContact(c Contact) {
	m.mu.Lock()
	m.contacts[c.ID] = c
	m.byPhone[c.Phone] = c.ID
	if c.LinkedUserID != nil {
		m.byUser[*c.LinkedUserID] = c.ID
	}
	m.mu.Unlock()
	m.notifyContacts()
}

func (m *Messenger) notifyContacts() {
	m.mu.Lock()
	h := m.onContactsChanged
	m.mu.Unlock()
	if h != nil {
		h()
	}
}

func (m *Messenger) notifyConversation(contactID uint) {
	m.mu.Lock()
	h := m.onConversation
	m.mu.Unlock()
	if h != nil {
		h(contactID)
	}
}

// Close 停掉所有在途闹钟并关闭实时通道。
func (m *Messenger) Close() error {
	m.mu.Lock()
	for id, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, id)
	}
	rt := m.realtime
	m.mu.Unlock()
	if rt != nil {
		return rt.Close()
	}
	return nil
}
