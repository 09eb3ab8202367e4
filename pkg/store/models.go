package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID         string `gorm:"primaryKey"`
	Email      string `gorm:"uniqueIndex;not null"`
	Name       string `gorm:"not null"`
	Avatar     string
	Role       string `gorm:"not null"`
	Department string
	IsActive   bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type ConversationModel struct {
	ID        string `gorm:"primaryKey"`
	Name      *string
	IsGroup   bool      `gorm:"not null"`
	CreatedBy string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

// ParticipantModel keys on (conversation, user) so a user can join a
// conversation at most once.
type ParticipantModel struct {
	ConversationID string    `gorm:"primaryKey"`
	UserID         string    `gorm:"primaryKey;index"`
	JoinedAt       time.Time `gorm:"not null"`
	LastReadAt     time.Time `gorm:"not null"`
	IsAdmin        bool      `gorm:"not null"`
}

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index:idx_messages_conv_created"`
	SenderID       string `gorm:"not null;index"`
	Content        string `gorm:"not null"`
	Type           string `gorm:"not null"`
	FileURL        *string
	FileName       *string
	FileSize       *int64
	ReplyToID      *string
	IsEdited       bool      `gorm:"not null"`
	IsDeleted      bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conv_created"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// ReactionModel exists for schema parity only; no aggregation here.
type ReactionModel struct {
	MessageID string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey"`
	Emoji     string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type FileUploadModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	FileName  string `gorm:"not null"`
	FileURL   string `gorm:"not null"`
	FileSize  int64  `gorm:"not null"`
	MimeType  string `gorm:"not null"`
	Bucket    string `gorm:"not null"`
	Path      string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// IdentityEventModel records processed identity-webhook events so redelivered
// events are applied at most once. Payload keeps the raw body for audit.
type IdentityEventModel struct {
	ID          string `gorm:"primaryKey"`
	Type        string `gorm:"not null"`
	Payload     datatypes.JSON
	ProcessedAt time.Time `gorm:"not null"`
}
