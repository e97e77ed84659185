package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType classifies a user notification
type NotificationType string

const (
	NotificationOrderFilled    NotificationType = "order_filled"
	NotificationPositionClosed NotificationType = "position_closed"
	NotificationDeposit        NotificationType = "deposit"
)

// Notification is a persisted user-facing event. Delivery is best-effort;
// a failed notification never affects the operation that produced it.
type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"index;not null" json:"user_id"`
	Type      NotificationType `gorm:"size:30;not null" json:"type"`
	Title     string           `gorm:"size:120;not null" json:"title"`
	Message   string           `gorm:"size:500" json:"message"`
	Data      datatypes.JSON   `json:"data,omitempty"`
	Read      bool             `gorm:"default:false;index" json:"read"`
	CreatedAt time.Time        `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Notification model
func (Notification) TableName() string {
	return "notifications"
}
