package chatclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"labsync/pkg/realtime"
)

// Session attaches one user to one conversation: it owns the broadcast
// subscription, the typing notifier and the reconciled view for the lifetime
// between Open and Close.
type Session struct {
	client  *Client
	channel realtime.Channel

	userID   string
	userName string

	conversationID string
	typingQuiet    time.Duration
	view           *ConversationView
	typing         *TypingNotifier
	sub            *realtime.Subscription
	done           chan struct{}

	mu        sync.RWMutex
	presences map[string]realtime.Presence
}

// SessionConfig wires a session. TypingQuiet defaults to 3 seconds.
type SessionConfig struct {
	Client      *Client
	Channel     realtime.Channel
	UserID      string
	UserName    string
	TypingQuiet time.Duration
}

func NewSession(cfg SessionConfig) *Session {
	return &Session{
		client:      cfg.Client,
		channel:     cfg.Channel,
		userID:      cfg.UserID,
		userName:    cfg.UserName,
		typingQuiet: cfg.TypingQuiet,
		view:        NewConversationView(),
		presences:   make(map[string]realtime.Presence),
	}
}

// Open subscribes to the conversation's topic and loads the initial message
// page. The REST fetch happens after the subscription is live, so nothing
// falls between the snapshot and the stream.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if s.sub != nil {
		return fmt.Errorf("session already open")
	}
	sub, err := s.channel.Subscribe(ctx, realtime.Topic(conversationID), realtime.Presence{
		UserID:   s.userID,
		UserName: s.userName,
		OnlineAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.conversationID = conversationID
	s.sub = sub
	s.done = make(chan struct{})
	// A fresh notifier per attachment: typing state never crosses a gap.
	s.typing = NewTypingNotifier(s.typingQuiet,
		func() { s.publishTyping(realtime.EventTypingStart) },
		func() { s.publishTyping(realtime.EventTypingStop) },
	)

	if err := s.Resync(ctx); err != nil {
		_ = sub.Close()
		s.sub = nil
		return err
	}
	go s.dispatch()
	return nil
}

// Close stops the typing episode, detaches from the topic and clears
// transient state.
func (s *Session) Close() error {
	if s.sub == nil {
		return nil
	}
	s.typing.Close()
	err := s.sub.Close()
	<-s.done
	s.sub = nil
	s.view.ClearAllTyping()
	return err
}

// View returns the reconciled conversation view.
func (s *Session) View() *ConversationView {
	return s.view
}

// Activity reports compose activity, driving the typing indicator.
func (s *Session) Activity() {
	if s.sub == nil {
		return
	}
	s.typing.Activity()
}

// Send posts a message over REST and applies the authoritative response
// locally; the broadcast echo is then a no-op replace.
func (s *Session) Send(ctx context.Context, content, replyToID string) error {
	if s.typing != nil {
		s.typing.Stop()
	}
	msg, err := s.client.SendMessage(ctx, s.conversationID, content, replyToID)
	if err != nil {
		return err
	}
	s.view.Apply(msg)
	return nil
}

// Resync refetches the message list and replaces the view; called on open and
// after reconnects. Typing state is dropped, not merged.
func (s *Session) Resync(ctx context.Context) error {
	msgs, err := s.client.ListMessages(ctx, s.conversationID, 0, 0)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	s.view.Replace(msgs)
	s.view.ClearAllTyping()
	return nil
}

// Presences returns the current topic occupants, sorted by user id.
func (s *Session) Presences() []realtime.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]realtime.Presence, 0, len(s.presences))
	for _, p := range s.presences {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Session) dispatch() {
	defer close(s.done)
	for {
		var event realtime.Event
		select {
		case <-s.sub.Done():
			return
		case event = <-s.sub.Events():
		}
		switch event.Type {
		case realtime.EventNewMessage, realtime.EventMessageUpdate:
			if event.Message == nil {
				continue
			}
			msg := *event.Message
			msg.IsOwn = msg.SenderID == s.userID
			s.view.Apply(msg)
		case realtime.EventTypingStart:
			// Own echoes are suppressed; the local composer already knows.
			if event.UserID != s.userID {
				s.view.SetTyping(event.UserID)
			}
		case realtime.EventTypingStop:
			if event.UserID != s.userID {
				s.view.ClearTyping(event.UserID)
			}
		case realtime.EventSync:
			s.mu.Lock()
			s.presences = make(map[string]realtime.Presence, len(event.Presences))
			for _, p := range event.Presences {
				s.presences[p.UserID] = p
			}
			s.mu.Unlock()
		case realtime.EventJoin:
			if event.Presence != nil {
				s.mu.Lock()
				s.presences[event.Presence.UserID] = *event.Presence
				s.mu.Unlock()
			}
		case realtime.EventLeave:
			s.mu.Lock()
			delete(s.presences, event.UserID)
			s.mu.Unlock()
			// A vanished occupant is no longer typing.
			s.view.ClearTyping(event.UserID)
		}
	}
}


func (s *Session) publishTyping(eventType realtime.EventType) {
	if s.sub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.channel.Publish(ctx, realtime.Topic(s.conversationID), realtime.Event{
		Type:   eventType,
		UserID: s.userID,
	})
}
