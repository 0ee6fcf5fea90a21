package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationAudience string

const (
	AudienceUser  NotificationAudience = "user"
	AudienceAdmin NotificationAudience = "admin"
)

// Notification is a best-effort message about a ledger state change.
type Notification struct {
	Audience  NotificationAudience   `json:"audience"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
