package store

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"labsync/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&ConversationModel{},
		&ParticipantModel{},
		&MessageModel{},
		&ReactionModel{},
		&FileUploadModel{},
		&IdentityEventModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser inserts or updates an identity mirror row.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "avatar", "role", "department", "is_active", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeactivateUser clears the active flag; the row is kept so message history
// still resolves sender details.
func (s *GormStore) DeactivateUser(id string, at time.Time) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": at.UTC()}).Error
}

// CreateConversation inserts the conversation and all participant rows in one
// transaction; partial participant insertion is never observable.
func (s *GormStore) CreateConversation(conv domain.Conversation, participants []domain.Participant) error {
	model := conversationToModel(conv)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		rows := make([]ParticipantModel, 0, len(participants))
		for _, p := range participants {
			rows = append(rows, participantToModel(p))
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 200).Error
	})
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns the caller's conversations, most recently
// active first.
func (s *GormStore) ListConversationsByUser(userID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Model(&ConversationModel{}).
		Joins("JOIN participant_models ON participant_models.conversation_id = conversation_models.id").
		Where("participant_models.user_id = ?", userID).
		Order("conversation_models.updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// TouchConversation refreshes updated_at so listConversations ordering tracks
// message activity.
func (s *GormStore) TouchConversation(id string, at time.Time) error {
	return s.db.Model(&ConversationModel{}).
		Where("id = ?", id).
		Update("updated_at", at.UTC()).Error
}

// IsParticipant reports current membership; callers re-check on every
// operation, so a removed participant is denied on the next call.
func (s *GormStore) IsParticipant(conversationID, userID string) (bool, error) {
	var count int64
	if err := s.db.Model(&ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListParticipants returns membership rows for a conversation.
func (s *GormStore) ListParticipants(conversationID string) ([]domain.Participant, error) {
	var models []ParticipantModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("joined_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Participant, 0, len(models))
	for _, model := range models {
		items = append(items, participantFromModel(model))
	}
	return items, nil
}

// SetLastRead stamps the participant's read marker.
func (s *GormStore) SetLastRead(conversationID, userID string, at time.Time) error {
	return s.db.Model(&ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_at", at.UTC()).Error
}

// CreateMessage persists a message row.
func (s *GormStore) CreateMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// GetMessage returns a message by ID without sender annotations.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// UpdateMessageContent overwrites content for an edit or a soft delete. Both
// paths mark the message edited; soft delete additionally sets the deleted
// flag while keeping the row and its reply references intact.
func (s *GormStore) UpdateMessageContent(id, content string, deleted bool, at time.Time) error {
	updates := map[string]any{
		"content":    content,
		"is_edited":  true,
		"updated_at": at.UTC(),
	}
	if deleted {
		updates["is_deleted"] = true
	}
	return s.db.Model(&MessageModel{}).Where("id = ?", id).Updates(updates).Error
}

type messageRow struct {
	MessageModel
	SenderName   string
	SenderEmail  string
	SenderAvatar string
}

// ListMessages fetches the newest rows first, then reverses them so callers
// always receive chronological order. Sender details are joined from users.
func (s *GormStore) ListMessages(conversationID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var rows []messageRow
	if err := s.db.Table("message_models").
		Select("message_models.*, user_models.name AS sender_name, user_models.email AS sender_email, user_models.avatar AS sender_avatar").
		Joins("LEFT JOIN user_models ON user_models.id = message_models.sender_id").
		Where("message_models.conversation_id = ?", conversationID).
		Order("message_models.created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msg := messageFromModel(rows[i].MessageModel)
		msg.SenderName = rows[i].SenderName
		msg.SenderEmail = rows[i].SenderEmail
		msg.SenderAvatar = rows[i].SenderAvatar
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// RecordFileUpload tracks an object placed in the file store.
func (s *GormStore) RecordFileUpload(upload domain.FileUpload) error {
	model := fileUploadToModel(upload)
	return s.db.Create(&model).Error
}

// MarkIdentityEvent records a processed identity event id. Returns false when
// the id was already recorded, so redelivered events are skipped.
func (s *GormStore) MarkIdentityEvent(id, eventType string, payload []byte) (bool, error) {
	model := IdentityEventModel{
		ID:          id,
		Type:        eventType,
		Payload:     payload,
		ProcessedAt: time.Now().UTC(),
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Avatar:     u.Avatar,
		Role:       string(u.Role),
		Department: u.Department,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleStaff
	}
	return domain.User{
		ID:         m.ID,
		Email:      m.Email,
		Name:       m.Name,
		Avatar:     m.Avatar,
		Role:       role,
		Department: m.Department,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	var name *string
	if strings.TrimSpace(c.Name) != "" {
		value := strings.TrimSpace(c.Name)
		name = &value
	}
	return ConversationModel{
		ID:        c.ID,
		Name:      name,
		IsGroup:   c.IsGroup,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	name := ""
	if m.Name != nil {
		name = *m.Name
	}
	return domain.Conversation{
		ID:        m.ID,
		Name:      name,
		IsGroup:   m.IsGroup,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func participantToModel(p domain.Participant) ParticipantModel {
	return ParticipantModel{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		JoinedAt:       p.JoinedAt,
		LastReadAt:     p.LastReadAt,
		IsAdmin:        p.IsAdmin,
	}
}

func participantFromModel(m ParticipantModel) domain.Participant {
	return domain.Participant{
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		JoinedAt:       m.JoinedAt,
		LastReadAt:     m.LastReadAt,
		IsAdmin:        m.IsAdmin,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	model := MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           string(msg.Type),
		IsEdited:       msg.IsEdited,
		IsDeleted:      msg.IsDeleted,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
	if msg.FileInfo != nil {
		url, name, size := msg.FileInfo.URL, msg.FileInfo.Name, msg.FileInfo.Size
		model.FileURL = &url
		model.FileName = &name
		model.FileSize = &size
	}
	if strings.TrimSpace(msg.ReplyToID) != "" {
		value := strings.TrimSpace(msg.ReplyToID)
		model.ReplyToID = &value
	}
	return model
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           domain.MessageType(m.Type),
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.FileURL != nil {
		info := domain.FileInfo{URL: *m.FileURL}
		if m.FileName != nil {
			info.Name = *m.FileName
		}
		if m.FileSize != nil {
			info.Size = *m.FileSize
		}
		msg.FileInfo = &info
	}
	if m.ReplyToID != nil {
		msg.ReplyToID = *m.ReplyToID
	}
	return msg
}

func fileUploadToModel(u domain.FileUpload) FileUploadModel {
	return FileUploadModel{
		ID:        u.ID,
		UserID:    u.UserID,
		FileName:  u.FileName,
		FileURL:   u.FileURL,
		FileSize:  u.FileSize,
		MimeType:  u.MimeType,
		Bucket:    u.Bucket,
		Path:      u.Path,
		CreatedAt: u.CreatedAt,
	}
}
