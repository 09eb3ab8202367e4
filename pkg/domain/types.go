package domain

import "time"

type UserRole string

const (
	RoleOwner   UserRole = "owner"
	RoleManager UserRole = "manager"
	RoleStaff   UserRole = "staff"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageFile  MessageType = "file"
	MessageImage MessageType = "image"
)

// DeletedMessageContent replaces the content of soft-deleted messages. The row
// itself is kept so reply references stay resolvable.
const DeletedMessageContent = "This message has been deleted"

// User mirrors an identity record owned by the external identity provider.
// This core only reads users; writes come in through the identity event feed.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar,omitempty"`
	Role       UserRole  `json:"role"`
	Department string    `json:"department,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Conversation is a direct or group chat. Name is set only for groups.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsGroup   bool      `json:"isGroup"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Participant is a user's membership in a conversation. At most one row per
// (conversation, user) pair; membership gates every operation on the
// conversation.
type Participant struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastReadAt     time.Time `json:"lastReadAt"`
	IsAdmin        bool      `json:"isAdmin"`
}

// FileInfo carries the attachment fields required when a message's type is
// file or image. Text messages must not carry one.
type FileInfo struct {
	URL  string `json:"fileUrl"`
	Name string `json:"fileName"`
	Size int64  `json:"fileSize"`
}

// Message is one entry in a conversation. The embedded *FileInfo flattens the
// attachment fields into the wire format and stays nil for text messages.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	*FileInfo
	ReplyToID string    `json:"replyToId,omitempty"`
	IsEdited  bool      `json:"isEdited"`
	IsDeleted bool      `json:"isDeleted,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Read-side annotations, joined from users and the requesting caller.
	SenderName   string `json:"senderName,omitempty"`
	SenderEmail  string `json:"senderEmail,omitempty"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
	IsOwn        bool   `json:"isOwn,omitempty"`
}

// FileUpload tracks an object placed in the file store.
type FileUpload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	FileName  string    `json:"fileName"`
	FileURL   string    `json:"fileUrl"`
	FileSize  int64     `json:"fileSize"`
	MimeType  string    `json:"mimeType"`
	Bucket    string    `json:"bucket"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reaction exists at the schema level only; no aggregation is performed here.
type Reaction struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}
