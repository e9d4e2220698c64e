package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ademjemaa/42-push-sub000/internal/config"
	"github.com/ademjemaa/42-push-sub000/internal/db"
	"github.com/ademjemaa/42-push-sub000/internal/server"
	"github.com/ademjemaa/42-push-sub000/internal/ws"

	"github.com/gin-gonic/gin"
)

// newTestServer 起一个完整的内存版服务端。
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		Port:                  "0",
		DatabasePath:          ":memory:",
		JWTSecret:             "test-secret",
		Env:                   "test",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
	}
	gdb, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("db.Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("db.Migrate() error = %v", err)
	}
	srv := httptest.NewServer(server.SetupRouter(cfg, gdb, ws.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv
}

func registerAccount(t *testing.T, baseURL, phone, username string) *User {
	t.Helper()
	u, err := NewREST(baseURL).RegisterAccount(context.Background(), phone, username, "password123")
	if err != nil {
		t.Fatalf("RegisterAccount(%s) error = %v", phone, err)
	}
	return u
}

func TestMessenger_SendOverRESTFallback(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	registerAccount(t, srv.URL, "0611111111", "alice")
	bob := registerAccount(t, srv.URL, "0622222222", "bob")

	tombs, _ := NewTombstoneCache("")
	// realtime 为 nil:所有发送都走 REST 回退。
	m := NewMessenger(NewREST(srv.URL), nil, tombs)
	defer m.Close()

	if _, err := m.Login(ctx, "0611111111", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	c, err := m.AddContact(ctx, bob.Phone, "bob")
	if err != nil {
		t.Fatalf("AddContact() error = %v", err)
	}
	if c.LinkedUserID == nil {
		t.Fatal("AddContact() did not link the registered peer")
	}

	msg, err := m.Send(ctx, c.ID, "hello over rest")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.TempID == "" {
		t.Error("Send() returned message without temp id")
	}

	// REST 路径同步确认:缓存里的那条已经换成服务端记录。
	msgs := m.Cache().Messages(c.ID)
	if len(msgs) != 1 {
		t.Fatalf("cache has %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != StatusDelivered {
		t.Errorf("cached status = %v, want delivered", msgs[0].Status)
	}
	if msgs[0].ID == 0 {
		t.Error("cached message kept zero server id after confirmation")
	}

	// 再拉一遍会话必须幂等,不产生重复行。
	got, err := m.Conversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Conversation() returned %d messages, want 1", len(got))
	}
}

func TestMessenger_TombstoneShortCircuit(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	registerAccount(t, srv.URL, "0611111111", "alice")
	bob := registerAccount(t, srv.URL, "0622222222", "bob")

	tombs, err := NewTombstoneCache(filepath.Join(t.TempDir(), "tombstones.json"))
	if err != nil {
		t.Fatalf("NewTombstoneCache() error = %v", err)
	}
	m := NewMessenger(NewREST(srv.URL), nil, tombs)
	defer m.Close()

	if _, err := m.Login(ctx, "0611111111", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	c, err := m.AddContact(ctx, bob.Phone, "bob")
	if err != nil {
		t.Fatalf("AddContact() error = %v", err)
	}
	if _, err := m.Send(ctx, c.ID, "soon to be deleted"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := m.DeleteContact(ctx, c.ID); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}
	if !tombs.Has(c.ID) {
		t.Error("DeleteContact() did not record a tombstone")
	}
	if m.Cache().Len(c.ID) != 0 {
		t.Error("DeleteContact() did not drop the cached conversation")
	}

	// 服务端已关闭:墓碑命中时不发网络请求,依然得到"不存在"。
	srv.Close()
	if _, err := m.Conversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Conversation() error = %v, want ErrNotFound from tombstone", err)
	}
}

func TestMessenger_ReAddClearsTombstone(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	registerAccount(t, srv.URL, "0611111111", "alice")
	bob := registerAccount(t, srv.URL, "0622222222", "bob")

	tombs, _ := NewTombstoneCache("")
	m := NewMessenger(NewREST(srv.URL), nil, tombs)
	defer m.Close()

	if _, err := m.Login(ctx, "0611111111", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	c, err := m.AddContact(ctx, bob.Phone, "bob")
	if err != nil {
		t.Fatalf("AddContact() error = %v", err)
	}
	if err := m.DeleteContact(ctx, c.ID); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}

	// 重新添加同一个号码要解除墓碑,否则会话被永远挡在缓存外。
	c2, err := m.AddContact(ctx, bob.Phone, "bob again")
	if err != nil {
		t.Fatalf("re-AddContact() error = %v", err)
	}
	if tombs.Has(c.ID) {
		t.Error("tombstone for the old contact id survived re-adding the phone")
	}
	if _, err := m.Conversation(ctx, c2.ID); err != nil {
		t.Errorf("Conversation() after re-add error = %v", err)
	}
}

func TestMessenger_AckBeforeSendReturns(t *testing.T) {
	tombs, _ := NewTombstoneCache("")
	m := NewMessenger(NewREST("http://127.0.0.1:0"), nil, tombs)
	defer m.Close()

	// 实时路径的时序:在途记录先登记,确认从读循环进来,可能比
	// 发送调用返回还早。确认必须命中在途记录,不能被丢弃。
	msg := m.cache.AppendPending(1, 10, 20, "fast ack")
	m.armAckTimer(1, msg.TempID)
	m.handleSent(MessageSentEvent{
		Message: Message{
			ID:         77,
			TempID:     msg.TempID,
			SenderID:   10,
			ReceiverID: 20,
			Content:    "fast ack",
			Timestamp:  time.Now(),
			Status:     StatusDelivered,
		},
		TempID: msg.TempID,
	})

	got := m.Cache().Messages(1)
	if len(got) != 1 {
		t.Fatalf("cache has %d messages, want 1", len(got))
	}
	if got[0].Status != StatusDelivered {
		t.Errorf("status after immediate ack = %v, want delivered", got[0].Status)
	}
	if got[0].ID != 77 {
		t.Errorf("cached id = %d, want server id 77", got[0].ID)
	}

	// 超时闹钟已拆除,这条消息不会事后被翻成失败。
	m.mu.Lock()
	inflight := len(m.pending)
	m.mu.Unlock()
	if inflight != 0 {
		t.Errorf("pending timers = %d after ack, want 0", inflight)
	}
	if m.cache.MarkFailed(1, msg.TempID) {
		t.Error("delivered message could still be marked failed")
	}
}

func TestMessenger_SendToUnlinkedContact(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	registerAccount(t, srv.URL, "0611111111", "alice")

	tombs, _ := NewTombstoneCache("")
	m := NewMessenger(NewREST(srv.URL), nil, tombs)
	defer m.Close()

	if _, err := m.Login(ctx, "0611111111", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	// 号码还没注册:联系人存在但无法收消息。
	c, err := m.AddContact(ctx, "0699999999", "ghost")
	if err != nil {
		t.Fatalf("AddContact() error = %v", err)
	}
	if _, err := m.Send(ctx, c.ID, "into the void"); err == nil {
		t.Error("Send() to unlinked contact should fail")
	}
}
