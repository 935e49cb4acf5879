package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account record. Passwords are stored verbatim; see DESIGN.md.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"index" json:"name"`
	Email     string    `gorm:"index" json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one persisted turn of a user's conversation. Rows are
// append-only and ordered by Timestamp per user.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"userId"`
	Role      string    `json:"role"` // "user" or "model"
	Message   string    `json:"message"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is the shape the completion provider consumes: one message with a
// coerced role.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// TurnsFromMessages maps persisted messages into provider turns. Anything
// that is not a user turn is treated as a model turn.
func TurnsFromMessages(msgs []ChatMessage) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		role := RoleModel
		if m.Role == string(RoleUser) {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Text: m.Message})
	}
	return turns
}

// ChatRequest is the body of POST /chat-api.
type ChatRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
}

// ChatResponse is the reply body of POST /chat-api.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ClearChatRequest is the body of POST /clear-chat.
type ClearChatRequest struct {
	ChatID string `json:"chatId"`
}
