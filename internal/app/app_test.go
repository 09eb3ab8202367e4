package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"labsync/pkg/domain"
	"labsync/pkg/realtime"
	"labsync/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *realtime.Hub) {
	t.Helper()
	st := store.NewMemoryStore()
	hub := realtime.NewHub()
	a := New(st, hub, nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	step := 0
	a.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	seq := 0
	a.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}

	for _, u := range []domain.User{
		{ID: "u1", Email: "ana@example.com", Name: "Ana", Role: domain.RoleStaff, IsActive: true},
		{ID: "u2", Email: "ben@example.com", Name: "Ben", Role: domain.RoleStaff, IsActive: true},
		{ID: "u3", Email: "cas@example.com", Name: "Cas", Role: domain.RoleManager, IsActive: true},
	} {
		if err := st.SaveUser(u); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
	}
	return a, st, hub
}

func mustConversation(t *testing.T, a *App, creator string, others ...string) domain.Conversation {
	t.Helper()
	conv, err := a.CreateConversation(context.Background(), creator, "lab", len(others) > 1, others)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func TestCreateConversationDedupesAndAdmins(t *testing.T) {
	a, st, _ := newTestApp(t)

	conv, err := a.CreateConversation(context.Background(), "u1", "  ops  ", true, []string{"u2", "u2", "u1", "u3"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Name != "ops" || !conv.IsGroup || conv.CreatedBy != "u1" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	parts, err := st.ListParticipants(conv.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 deduped participants, got %d", len(parts))
	}
	for _, p := range parts {
		if p.IsAdmin != (p.UserID == "u1") {
			t.Fatalf("admin flag wrong for %s", p.UserID)
		}
	}
}

func TestCreateConversationValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	if _, err := a.CreateConversation(ctx, "u1", "", false, []string{"u1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("self-only conversation should fail validation, got %v", err)
	}
	if _, err := a.CreateConversation(ctx, "u1", "", false, []string{"u2", "u3"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("three-way direct conversation should fail validation, got %v", err)
	}
	if _, err := a.CreateConversation(ctx, "u1", "", false, []string{"ghost"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown participant should fail validation, got %v", err)
	}

	// Direct conversations never carry a name.
	conv, err := a.CreateConversation(ctx, "u1", "ignored", false, []string{"u2"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Name != "" {
		t.Fatalf("direct conversation kept a name: %q", conv.Name)
	}
}

func TestSendMessageParticipantGate(t *testing.T) {
	a, _, _ := newTestApp(t)
	conv := mustConversation(t, a, "u1", "u2")

	_, err := a.SendMessage(context.Background(), SendMessageInput{
		ConversationID: conv.ID,
		SenderID:       "u3",
		Content:        "hi",
		Type:           domain.MessageText,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-participant send should be forbidden, got %v", err)
	}

	msgs, err := a.ListMessages(context.Background(), conv.ID, "u3", 10, 0)
	if !errors.Is(err, ErrForbidden) || msgs != nil {
		t.Fatalf("non-participant list should be forbidden, got %v", err)
	}
}

func TestSendMessageVariants(t *testing.T) {
	a, _, _ := newTestApp(t)
	conv := mustConversation(t, a, "u1", "u2")
	ctx := context.Background()

	if _, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Content: "   ", Type: domain.MessageText}); !errors.Is(err, ErrValidation) {
		t.Fatalf("whitespace content should fail, got %v", err)
	}
	if _, err := a.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID, SenderID: "u1", Content: "pic", Type: domain.MessageText,
		File: &domain.FileInfo{URL: "u", Name: "n", Size: 1},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("text with file meta should fail, got %v", err)
	}
	if _, err := a.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID, SenderID: "u1", Content: "pic", Type: domain.MessageImage,
		File: &domain.FileInfo{URL: "u", Name: "n"},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("image without size should fail, got %v", err)
	}

	msg, err := a.SendMessage(ctx, SendMessageInput{
		ConversationID: conv.ID, SenderID: "u1", Content: "report.pdf", Type: domain.MessageFile,
		File: &domain.FileInfo{URL: "https://files/x", Name: "report.pdf", Size: 2048},
	})
	if err != nil {
		t.Fatalf("file message: %v", err)
	}
	if msg.FileInfo == nil || msg.FileInfo.Size != 2048 || msg.SenderName != "Ana" {
		t.Fatalf("unexpected file message: %+v", msg)
	}
}

func TestSendMessageReplyThreading(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	conv := mustConversation(t, a, "u1", "u2")
	other := mustConversation(t, a, "u1", "u3")

	parent, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Content: "root", Type: domain.MessageText})
	if err != nil {
		t.Fatalf("send parent: %v", err)
	}

	if _, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u2", Content: "reply", Type: domain.MessageText, ReplyToID: "missing"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("reply to missing message should fail, got %v", err)
	}
	if _, err := a.SendMessage(ctx, SendMessageInput{ConversationID: other.ID, SenderID: "u1", Content: "reply", Type: domain.MessageText, ReplyToID: parent.ID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("cross-conversation reply should fail, got %v", err)
	}

	reply, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u2", Content: "reply", Type: domain.MessageText, ReplyToID: parent.ID})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if reply.ReplyToID != parent.ID {
		t.Fatalf("reply not linked: %+v", reply)
	}

	// The reply reference survives deleting the parent.
	if _, err := a.DeleteMessage(ctx, parent.ID, "u1"); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	msgs, err := a.ListMessages(ctx, conv.ID, "u2", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected parent and reply to remain, got %d", len(msgs))
	}
	if msgs[0].Content != domain.DeletedMessageContent || !msgs[0].IsDeleted {
		t.Fatalf("parent not soft-deleted: %+v", msgs[0])
	}
	if msgs[1].ReplyToID != parent.ID {
		t.Fatalf("reply reference lost: %+v", msgs[1])
	}
}

func TestListMessagesAnnotations(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	conv := mustConversation(t, a, "u1", "u2")

	for i, sender := range []string{"u1", "u2", "u1"} {
		if _, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: sender, Content: fmt.Sprintf("m%d", i), Type: domain.MessageText}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	msgs, err := a.ListMessages(ctx, conv.ID, "u1", 0, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages not chronological at %d", i)
		}
	}
	wantOwn := []bool{true, false, true}
	for i, msg := range msgs {
		if msg.IsOwn != wantOwn[i] {
			t.Fatalf("isOwn wrong at %d: %+v", i, msg)
		}
		if msg.SenderName == "" {
			t.Fatalf("missing sender annotation at %d", i)
		}
	}
}

func TestEditMessageAuthorOnly(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	conv := mustConversation(t, a, "u1", "u2")

	msg, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Content: "draft", Type: domain.MessageText})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := a.EditMessage(ctx, msg.ID, "u2", "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-author edit should be forbidden, got %v", err)
	}
	if _, err := a.EditMessage(ctx, "missing", "u1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing message edit should be not found, got %v", err)
	}

	edited, err := a.EditMessage(ctx, msg.ID, "u1", "  final  ")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "final" || !edited.IsEdited || edited.IsDeleted {
		t.Fatalf("unexpected edited message: %+v", edited)
	}
	if !edited.UpdatedAt.After(msg.UpdatedAt) {
		t.Fatalf("updatedAt did not advance")
	}
}

func TestDeleteMessageSoftAndIdempotent(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	conv := mustConversation(t, a, "u1", "u2")

	msg, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Content: "oops", Type: domain.MessageText})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.DeleteMessage(ctx, msg.ID, "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-author delete should be forbidden, got %v", err)
	}

	deleted, err := a.DeleteMessage(ctx, msg.ID, "u1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.Content != domain.DeletedMessageContent || !deleted.IsDeleted || !deleted.IsEdited {
		t.Fatalf("unexpected deleted message: %+v", deleted)
	}

	if _, err := a.EditMessage(ctx, msg.ID, "u1", "resurrect"); !errors.Is(err, ErrValidation) {
		t.Fatalf("editing deleted message should fail, got %v", err)
	}
	again, err := a.DeleteMessage(ctx, msg.ID, "u1")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if again.Content != domain.DeletedMessageContent {
		t.Fatalf("second delete changed content: %+v", again)
	}
}

func TestSendMessageBroadcastsAfterPersist(t *testing.T) {
	a, st, hub := newTestApp(t)
	ctx := context.Background()
	conv := mustConversation(t, a, "u1", "u2")

	sub, err := hub.Subscribe(ctx, realtime.Topic(conv.ID), realtime.Presence{UserID: "u2", UserName: "Ben"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	msg, err := a.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "u1", Content: "hello", Type: domain.MessageText})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event.Type != realtime.EventNewMessage {
				continue
			}
			if event.Message == nil || event.Message.ID != msg.ID || event.Message.SenderName != "Ana" {
				t.Fatalf("unexpected broadcast: %+v", event)
			}
			if _, ok, err := st.GetMessage(msg.ID); err != nil || !ok {
				t.Fatalf("message not durable at broadcast time")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for new_message broadcast")
		}
	}
}

func TestSendMessageMovesReadMarkerAndRecency(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	first := mustConversation(t, a, "u1", "u2")
	second := mustConversation(t, a, "u1", "u3")

	convs, err := a.ListConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if convs[0].ID != second.ID {
		t.Fatalf("expected newest conversation first, got %s", convs[0].ID)
	}

	if _, err := a.SendMessage(ctx, SendMessageInput{ConversationID: first.ID, SenderID: "u1", Content: "bump", Type: domain.MessageText}); err != nil {
		t.Fatalf("send: %v", err)
	}
	convs, _ = a.ListConversations(ctx, "u1")
	if convs[0].ID != first.ID {
		t.Fatalf("send did not refresh conversation recency")
	}

	parts, err := st.ListParticipants(first.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	var sender, other domain.Participant
	for _, p := range parts {
		if p.UserID == "u1" {
			sender = p
		} else {
			other = p
		}
	}
	if !sender.LastReadAt.After(other.LastReadAt) {
		t.Fatalf("sender read marker did not move: sender=%v other=%v", sender.LastReadAt, other.LastReadAt)
	}
}
