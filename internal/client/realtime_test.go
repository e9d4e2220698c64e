package client

import (
	"context"
	"testing"
	"time"
)

func TestRealtime_RegisterMismatchRejected(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	registerAccount(t, srv.URL, "0611111111", "alice")
	bob := registerAccount(t, srv.URL, "0622222222", "bob")

	rest := NewREST(srv.URL)
	if _, err := rest.Login(ctx, "0611111111", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// alice 的令牌配 bob 的 id:注册必须被 socket_error 拒绝。
	rt := NewRealtime(srv.URL, rest.Token())
	if err := rt.Connect(ctx, bob.ID); err == nil {
		_ = rt.Close()
		t.Fatal("Connect() with mismatched user id should fail")
	}
}

func TestRealtime_SendRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := registerAccount(t, srv.URL, "0611111111", "alice")
	bob := registerAccount(t, srv.URL, "0622222222", "bob")

	// Bob 在线监听。
	bobRest := NewREST(srv.URL)
	if _, err := bobRest.Login(ctx, "0622222222", "password123"); err != nil {
		t.Fatalf("bob Login() error = %v", err)
	}
	bobRT := NewRealtime(srv.URL, bobRest.Token())
	newMsgs := make(chan NewMessageEvent, 1)
	bobRT.OnNewMessage(func(e NewMessageEvent) {
		select {
		case newMsgs <- e:
		default:
		}
	})
	if err := bobRT.Connect(ctx, bob.ID); err != nil {
		t.Fatalf("bob Connect() error = %v", err)
	}
	defer bobRT.Close()

	// Alice 走完整的实时发送路径。
	tombs, _ := NewTombstoneCache("")
	m := NewMessenger(NewREST(srv.URL), NewRealtime(srv.URL, ""), tombs)
	defer m.Close()
	if _, err := m.Login(ctx, "0611111111", "password123"); err != nil {
		t.Fatalf("alice Login() error = %v", err)
	}
	c, err := m.AddContact(ctx, bob.Phone, "bob")
	if err != nil {
		t.Fatalf("AddContact() error = %v", err)
	}
	if _, err := m.Send(ctx, c.ID, "over the socket"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Bob 收到 newMessage:载荷带发送方身份和自动建联信息。
	select {
	case evt := <-newMsgs:
		if evt.Message.Content != "over the socket" {
			t.Errorf("newMessage content = %q", evt.Message.Content)
		}
		if evt.SenderPhone != alice.Phone || evt.SenderUsername != "alice" {
			t.Errorf("newMessage sender = %s/%s, want %s/alice", evt.SenderPhone, evt.SenderUsername, alice.Phone)
		}
		if evt.AutoCreatedContact == nil {
			t.Error("newMessage missing auto created contact for first contact")
		} else if evt.AutoCreatedContact.Nickname != alice.Phone {
			t.Errorf("auto contact nickname = %q, want the phone number", evt.AutoCreatedContact.Nickname)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receiver never got the newMessage event")
	}

	// Alice 的 message_sent 确认把缓存换成已送达的服务端记录。
	deadline := time.Now().Add(5 * time.Second)
	for {
		msgs := m.Cache().Messages(c.ID)
		if len(msgs) == 1 && msgs[0].Status == StatusDelivered && msgs[0].ID != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ack never reconciled, cache = %+v", msgs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
