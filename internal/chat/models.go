package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable entry of a session's conversation log.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(36);not null;index:idx_chat_msg_session_id" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
}

func (Message) TableName() string { return "chat_messages" }

func newMessage(sessionID, role, content string) Message {
	return Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Session is the per-client conversation state: an ordered, size-bounded
// history plus the currently selected role.
type Session struct {
	ID           string
	History      []Message
	SelectedRole string
}

// sessionRow persists the selected role for the SQL-backed store.
type sessionRow struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	SessionID    string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	SelectedRole string    `gorm:"type:varchar(64);not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (sessionRow) TableName() string { return "chat_sessions" }
