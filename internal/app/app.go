// Package app holds the conversation and message operations behind the HTTP
// surface. Authorization is re-checked on every call: participant-gated for
// conversation access, author-gated for edits and deletes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"labsync/internal/util"
	"labsync/pkg/domain"
	"labsync/pkg/realtime"
	"labsync/pkg/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

type App struct {
	store   store.Store
	channel realtime.Channel
	log     *slog.Logger

	now   func() time.Time
	newID func() string
}

func New(st store.Store, channel realtime.Channel, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{
		store:   st,
		channel: channel,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   util.NewID,
	}
}

// IsParticipant reports whether the user currently belongs to the
// conversation. No caching: a removed participant is denied on the next call.
func (a *App) IsParticipant(conversationID, userID string) (bool, error) {
	return a.store.IsParticipant(conversationID, userID)
}

// IsAuthor reports whether the user wrote the message.
func (a *App) IsAuthor(messageID, userID string) (bool, error) {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return false, err
	}
	return ok && msg.SenderID == userID, nil
}

// CreateConversation starts a direct or group conversation. The creator is
// always included and is the admin; participant IDs are deduplicated. Direct
// conversations hold exactly two participants and never carry a name.
func (a *App) CreateConversation(ctx context.Context, creatorID, name string, isGroup bool, participantIDs []string) (domain.Conversation, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return domain.Conversation{}, fmt.Errorf("%w: creator required", ErrValidation)
	}

	seen := map[string]bool{creatorID: true}
	userIDs := []string{creatorID}
	for _, raw := range participantIDs {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		userIDs = append(userIDs, id)
	}
	if len(userIDs) < 2 {
		return domain.Conversation{}, fmt.Errorf("%w: at least one other participant required", ErrValidation)
	}
	if !isGroup && len(userIDs) != 2 {
		return domain.Conversation{}, fmt.Errorf("%w: direct conversations have exactly two participants", ErrValidation)
	}

	name = strings.TrimSpace(name)
	if !isGroup {
		name = ""
	}

	for _, id := range userIDs {
		user, ok, err := a.store.GetUserByID(id)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("lookup user %s: %w", id, err)
		}
		if !ok || !user.IsActive {
			return domain.Conversation{}, fmt.Errorf("%w: unknown participant %s", ErrValidation, id)
		}
	}

	now := a.now()
	conv := domain.Conversation{
		ID:        a.newID(),
		Name:      name,
		IsGroup:   isGroup,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := make([]domain.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		participants = append(participants, domain.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			JoinedAt:       now,
			LastReadAt:     now,
			IsAdmin:        id == creatorID,
		})
	}
	if err := a.store.CreateConversation(conv, participants); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	a.log.Info("conversation created",
		"conversation_id", conv.ID,
		"created_by", creatorID,
		"is_group", isGroup,
		"participants", len(participants),
	)
	return conv, nil
}

// ListConversations returns the caller's conversations, most recently active
// first.
func (a *App) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return a.store.ListConversationsByUser(userID)
}

// GetConversation returns one conversation with its participants.
// Participant-gated.
func (a *App) GetConversation(ctx context.Context, conversationID, userID string) (domain.Conversation, []domain.Participant, error) {
	member, err := a.store.IsParticipant(conversationID, userID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	if !member {
		return domain.Conversation{}, nil, ErrForbidden
	}
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	if !ok {
		return domain.Conversation{}, nil, ErrNotFound
	}
	participants, err := a.store.ListParticipants(conversationID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	return conv, participants, nil
}

// SendMessageInput carries one outgoing message. File is required for file
// and image messages and must be absent for text.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           domain.MessageType
	File           *domain.FileInfo
	ReplyToID      string
}

// SendMessage validates, persists and broadcasts a message. The sender's read
// marker and the conversation's updatedAt move with the new message. The
// broadcast happens after the row is durable; a failed publish is logged and
// the message still stands.
func (a *App) SendMessage(ctx context.Context, in SendMessageInput) (domain.Message, error) {
	member, err := a.store.IsParticipant(in.ConversationID, in.SenderID)
	if err != nil {
		return domain.Message{}, err
	}
	if !member {
		return domain.Message{}, ErrForbidden
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: content required", ErrValidation)
	}
	switch in.Type {
	case domain.MessageText:
		if in.File != nil {
			return domain.Message{}, fmt.Errorf("%w: text messages carry no file", ErrValidation)
		}
	case domain.MessageFile, domain.MessageImage:
		if in.File == nil || strings.TrimSpace(in.File.URL) == "" || strings.TrimSpace(in.File.Name) == "" || in.File.Size <= 0 {
			return domain.Message{}, fmt.Errorf("%w: file messages require url, name and size", ErrValidation)
		}
	default:
		return domain.Message{}, fmt.Errorf("%w: unknown message type %q", ErrValidation, in.Type)
	}

	replyToID := strings.TrimSpace(in.ReplyToID)
	if replyToID != "" {
		parent, ok, err := a.store.GetMessage(replyToID)
		if err != nil {
			return domain.Message{}, err
		}
		if !ok || parent.ConversationID != in.ConversationID {
			return domain.Message{}, fmt.Errorf("%w: reply target not in conversation", ErrValidation)
		}
	}

	now := a.now()
	msg := domain.Message{
		ID:             a.newID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        content,
		Type:           in.Type,
		FileInfo:       in.File,
		ReplyToID:      replyToID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.CreateMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	if err := a.store.TouchConversation(in.ConversationID, now); err != nil {
		a.log.Warn("conversation touch failed", "conversation_id", in.ConversationID, "error", err)
	}
	if err := a.store.SetLastRead(in.ConversationID, in.SenderID, now); err != nil {
		a.log.Warn("last read update failed", "conversation_id", in.ConversationID, "user_id", in.SenderID, "error", err)
	}

	annotated := a.annotateSender(msg)
	a.publish(ctx, in.ConversationID, realtime.Event{Type: realtime.EventNewMessage, Message: &annotated})
	return annotated, nil
}

// ListMessages returns a chronological page of messages, each annotated with
// sender details and isOwn relative to the requester. Participant-gated.
func (a *App) ListMessages(ctx context.Context, conversationID, requesterID string, limit, offset int) ([]domain.Message, error) {
	member, err := a.store.IsParticipant(conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	msgs, err := a.store.ListMessages(conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].IsOwn = msgs[i].SenderID == requesterID
	}
	return msgs, nil
}

// EditMessage replaces a message's content. Author-only; deleted messages
// cannot be edited. Broadcasts message_update after the write.
func (a *App) EditMessage(ctx context.Context, messageID, actorID, newContent string) (domain.Message, error) {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	if msg.SenderID != actorID {
		return domain.Message{}, ErrForbidden
	}
	if member, err := a.store.IsParticipant(msg.ConversationID, actorID); err != nil {
		return domain.Message{}, err
	} else if !member {
		return domain.Message{}, ErrForbidden
	}
	if msg.IsDeleted {
		return domain.Message{}, fmt.Errorf("%w: message is deleted", ErrValidation)
	}
	content := strings.TrimSpace(newContent)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: content required", ErrValidation)
	}

	now := a.now()
	if err := a.store.UpdateMessageContent(messageID, content, false, now); err != nil {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = now

	annotated := a.annotateSender(msg)
	a.publish(ctx, msg.ConversationID, realtime.Event{Type: realtime.EventMessageUpdate, Message: &annotated})
	return annotated, nil
}

// DeleteMessage soft-deletes a message: the row stays so replies keep
// resolving, content becomes a fixed sentinel and the deleted flag is set.
// Author-only; deleting twice is a no-op.
func (a *App) DeleteMessage(ctx context.Context, messageID, actorID string) (domain.Message, error) {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	if msg.SenderID != actorID {
		return domain.Message{}, ErrForbidden
	}
	if member, err := a.store.IsParticipant(msg.ConversationID, actorID); err != nil {
		return domain.Message{}, err
	} else if !member {
		return domain.Message{}, ErrForbidden
	}
	if msg.IsDeleted {
		return a.annotateSender(msg), nil
	}

	now := a.now()
	if err := a.store.UpdateMessageContent(messageID, domain.DeletedMessageContent, true, now); err != nil {
		return domain.Message{}, fmt.Errorf("delete message: %w", err)
	}
	msg.Content = domain.DeletedMessageContent
	msg.IsEdited = true
	msg.IsDeleted = true
	msg.UpdatedAt = now

	annotated := a.annotateSender(msg)
	a.publish(ctx, msg.ConversationID, realtime.Event{Type: realtime.EventMessageUpdate, Message: &annotated})
	return annotated, nil
}

// MarkRead stamps the caller's read marker. Participant-gated.
func (a *App) MarkRead(ctx context.Context, conversationID, userID string) error {
	member, err := a.store.IsParticipant(conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrForbidden
	}
	return a.store.SetLastRead(conversationID, userID, a.now())
}

func (a *App) annotateSender(msg domain.Message) domain.Message {
	user, ok, err := a.store.GetUserByID(msg.SenderID)
	if err != nil || !ok {
		return msg
	}
	msg.SenderName = user.Name
	msg.SenderEmail = user.Email
	msg.SenderAvatar = user.Avatar
	return msg
}

func (a *App) publish(ctx context.Context, conversationID string, event realtime.Event) {
	if a.channel == nil {
		return
	}
	if err := a.channel.Publish(ctx, realtime.Topic(conversationID), event); err != nil {
		a.log.Warn("broadcast failed",
			"conversation_id", conversationID,
			"event", string(event.Type),
			"error", err,
		)
	}
}
