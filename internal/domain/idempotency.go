package domain

import "time"

// Idempotency records the model reply produced for a send-message request,
// keyed by (user_id, chat_id, key). A retried request carrying the same key
// is answered with the stored message instead of calling the model again.
type Idempotency struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;uniqueIndex:ux_user_chat_key,priority:1"`
	ChatID    uint      `gorm:"not null;uniqueIndex:ux_user_chat_key,priority:2"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_user_chat_key,priority:3"`
	MessageID uint      `gorm:"not null"`
	Status    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
