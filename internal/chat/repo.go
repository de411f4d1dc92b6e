package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*Repo)(nil)

// Repo is the SQL-backed Store. Message ids are auto-increment, so id order
// is arrival order.
type Repo struct {
	db         *gorm.DB
	maxHistory int
}

func NewRepo(db *gorm.DB, maxHistory int) *Repo {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Repo{db: db, maxHistory: maxHistory}
}

// Migrate creates or updates the chat tables.
func (r *Repo) Migrate() error {
	return r.db.AutoMigrate(&sessionRow{}, &Message{})
}

// ensureSession creates the session row on first use.
func (r *Repo) ensureSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&sessionRow{SessionID: sessionID}).Error
}

func (r *Repo) AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	if err := r.ensureSession(ctx, sessionID); err != nil {
		return Message{}, err
	}
	m := newMessage(sessionID, role, content)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Message{}, err
	}
	return m, nil
}

// TrimHistory deletes every message at or below the id of the first message
// that falls outside the newest maxHistory.
func (r *Repo) TrimHistory(ctx context.Context, sessionID string) error {
	var cutoff []uint64
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Offset(r.maxHistory).
		Limit(1).
		Pluck("id", &cutoff).Error; err != nil {
		return err
	}
	if len(cutoff) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("session_id = ? AND id <= ?", sessionID, cutoff[0]).
		Delete(&Message{}).Error
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) RecentWindow(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	recentDesc, err := r.ListRecentMessagesDesc(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	out := make([]Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		out = append(out, recentDesc[i])
	}
	return out, nil
}

func (r *Repo) History(ctx context.Context, sessionID string) ([]Message, error) {
	msgs := []Message{}
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) SetRole(ctx context.Context, sessionID, roleID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"selected_role", "updated_at"}),
		}).
		Create(&sessionRow{SessionID: sessionID, SelectedRole: roleID}).Error
}

func (r *Repo) GetRole(ctx context.Context, sessionID string) (string, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.SelectedRole, nil
}

func (r *Repo) Clear(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Message{}).Error
}
