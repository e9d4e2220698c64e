package service

import (
	"errors"
	"testing"

	"github.com/ademjemaa/42-push-sub000/internal/models"
)

func TestMessageService_Send(t *testing.T) {
	gdb := newTestDB(t)
	contacts := NewContactService(gdb)
	svc := NewMessageService(gdb, contacts)

	alice := registerUser(t, gdb, "0611111111", "alice")
	bob := registerUser(t, gdb, "0622222222", "bob")

	res, err := svc.Send(alice.ID, bob.ID, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Message.ID == 0 {
		t.Error("Send() message has zero ID")
	}
	if res.Duplicate {
		t.Error("Send() Duplicate = true on first send")
	}
	if res.Sender.Phone != alice.Phone {
		t.Errorf("Send() sender phone = %v, want %v", res.Sender.Phone, alice.Phone)
	}
	if res.Message.Read {
		t.Error("Send() message should start unread")
	}
}

func TestMessageService_Send_EmptyContent(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewMessageService(gdb, NewContactService(gdb))

	alice := registerUser(t, gdb, "0611111111", "alice")
	bob := registerUser(t, gdb, "0622222222", "bob")

	if _, err := svc.Send(alice.ID, bob.ID, ""); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Send() error = %v, want ErrEmptyContent", err)
	}
}

func TestMessageService_Send_UnknownUsers(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewMessageService(gdb, NewContactService(gdb))

	alice := registerUser(t, gdb, "0611111111", "alice")

	tests := []struct {
		name     string
		sender   uint
		receiver uint
	}{
		{"unknown receiver", alice.ID, 999},
		{"unknown sender", 999, alice.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Send(tt.sender, tt.receiver, "hi"); !errors.Is(err, ErrUserNotFound) {
				t.Errorf("Send() error = %v, want ErrUserNotFound", err)
			}
		})
	}
}

func TestMessageService_Send_DedupWindow(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewMessageService(gdb, NewContactService(gdb))

	alice := registerUser(t, gdb, "0611111111", "alice")
	bob := registerUser(t, gdb, "0622222222", "bob")

	first, err := svc.Send(alice.ID, bob.ID, "hello")
	if err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	second, err := svc.Send(alice.ID, bob.ID, "hello")
	if err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
	if !second.Duplicate {
		t.Error("second Send() Duplicate = false, want true inside the window")
	}
	if second.Message.ID != first.Message.ID {
		t.Errorf("second Send() message ID = %d, want existing %d", second.Message.ID, first.Message.ID)
	}

	var count int64
	gdb.Model(&models.Message{}).Count(&count)
	if count != 1 {
		t.Errorf("message rows = %d, want 1", count)
	}

	// 不同内容不受去重影响。
	third, err := svc.Send(alice.ID, bob.ID, "hello again")
	if err != nil {
		t.Fatalf("third Send() error = %v", err)
	}
	if third.Duplicate {
		t.Error("third Send() Duplicate = true for different content")
	}
}

func TestMessageService_Send_AutoCreatesContact(t *testing.T) {
	gdb := newTestDB(t)
	contacts := NewContactService(gdb)
	svc := NewMessageService(gdb, contacts)

	alice := registerUser(t, gdb, "0611111111", "alice")
	bob := registerUser(t, gdb, "0622222222", "bob")

	res, err := svc.Send(alice.ID, bob.ID, "hello stranger")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.AutoContact == nil {
		t.Fatal("Send() AutoContact = nil, want receiver-side entry")
	}
	if res.AutoContact.OwnerID != bob.ID {
		t.Errorf("AutoContact owner = %d, want receiver %d", res.AutoContact.OwnerID, bob.ID)
	}
	if res.AutoContact.Phone != alice.Phone || res.AutoContact.Nickname != alice.Phone {
		t.Errorf("AutoContact = %+v, want phone and nickname %v", res.AutoContact, alice.Phone)
	}

	// 第二条消息不再带 AutoContact。
	res2, err := svc.Send(alice.ID, bob.ID, "second")
	if err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
	if res2.AutoContact != nil {
		t.Error("second Send() AutoContact should be nil")
	}
}

func TestMessageService_Conversation(t *testing.T) {
	gdb := newTestDB(t)
	contacts := NewContactService(gdb)
	svc := NewMessageService(gdb, contacts)

	alice := registerUser(t, gdb, "0611111111", "alice")
	bob := registerUser(t, gdb, "0622222222", "bob")

	c, err := contacts.Add(alice.ID, bob.Phone, "bob")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := svc.Send(alice.ID, bob.ID, "one"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := svc.Send(bob.ID, alice.ID, "two"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := svc.Send(alice.ID, bob.ID, "three"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs, err := svc.Conversation(alice.ID, c.ID)
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Conversation() returned %d messages, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("Conversation() not in ascending order at index %d", i)
		}
	}

	// 对方发来的消息在拉取时被标记为已读。
	for _, m := range msgs {
		if m.SenderID == bob.ID && !m.Read {
			t.Errorf("Conversation() message %d from peer not marked read", m.ID)
		}
	}
	var unread int64
	gdb.Model(&models.Message{}).Where(
		"sender_id = ? AND receiver_id = ? AND is_read = ?", bob.ID, alice.ID, false,
	).Count(&unread)
	if unread != 0 {
		t.Errorf("unread peer messages after Conversation() = %d, want 0", unread)
	}
}

func TestMessageService_Conversation_UnlinkedContact(t *testing.T) {
	gdb := newTestDB(t)
	contacts := NewContactService(gdb)
	svc := NewMessageService(gdb, contacts)

	alice := registerUser(t, gdb, "0611111111", "alice")
	c, err := contacts.Add(alice.ID, "0699999999", "ghost")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	msgs, err := svc.Conversation(alice.ID, c.ID)
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Conversation() with unregistered peer returned %d messages, want 0", len(msgs))
	}
}

func TestMessageService_Conversation_UnknownContact(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewMessageService(gdb, NewContactService(gdb))

	alice := registerUser(t, gdb, "0611111111", "alice")

	if _, err := svc.Conversation(alice.ID, 42); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("Conversation() error = %v, want ErrContactNotFound", err)
	}
}
