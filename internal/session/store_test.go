package session

import (
	"context"
	"testing"
)

// newTestStore creates a Store connected to a local Redis instance and
// removes leftover test session keys before returning. Tests that call this
// helper require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("localhost:6379", "test-server")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}

	ctx := context.Background()
	cleanup := func() {
		iter := store.client.Scan(ctx, 0, SessionPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		store.Close()
	})
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_create"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_create")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.Status != StatusPendingAuth {
		t.Errorf("expected status %q, got %q", StatusPendingAuth, sess.Status)
	}
	if sess.UserID != "" {
		t.Errorf("expected no user before auth, got %q", sess.UserID)
	}
	if sess.Server != "test-server" {
		t.Errorf("expected server test-server, got %q", sess.Server)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Get(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for unknown session, got %+v", sess)
	}
}

func TestSetUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_setuser"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.SetUser(ctx, "test_setuser", "u1", "ada"); err != nil {
		t.Fatalf("SetUser() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_setuser")
	if err != nil || sess == nil {
		t.Fatalf("Get() error: %v sess=%v", err, sess)
	}
	if sess.UserID != "u1" || sess.Username != "ada" {
		t.Errorf("unexpected user binding: %+v", sess)
	}
	if sess.Status != StatusOnline {
		t.Errorf("expected status %q, got %q", StatusOnline, sess.Status)
	}
}

func TestJoinedChats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddChat(ctx, "test_chats", "c1"); err != nil {
		t.Fatalf("AddChat() error: %v", err)
	}
	if err := store.AddChat(ctx, "test_chats", "c2"); err != nil {
		t.Fatalf("AddChat() error: %v", err)
	}

	chats, err := store.Chats(ctx, "test_chats")
	if err != nil {
		t.Fatalf("Chats() error: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %v", chats)
	}

	if err := store.RemoveChat(ctx, "test_chats", "c1"); err != nil {
		t.Fatalf("RemoveChat() error: %v", err)
	}
	chats, err = store.Chats(ctx, "test_chats")
	if err != nil {
		t.Fatalf("Chats() error: %v", err)
	}
	if len(chats) != 1 || chats[0] != "c2" {
		t.Errorf("expected [c2], got %v", chats)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_delete"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.AddChat(ctx, "test_delete", "c1"); err != nil {
		t.Fatalf("AddChat() error: %v", err)
	}
	if err := store.Delete(ctx, "test_delete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_delete")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected session gone, got %+v", sess)
	}
	chats, err := store.Chats(ctx, "test_delete")
	if err != nil {
		t.Fatalf("Chats() error: %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("expected joined chats gone, got %v", chats)
	}
}
