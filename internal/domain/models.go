// Package domain defines the persistence models for users, chats, messages,
// uploaded files, and model prompts. These types are mapped with GORM and
// form the core data layer of the service.
package domain

import (
	"time"
)

// Role identifies the author of a Message. It is a closed two-valued set
// mirrored by a CHECK constraint on the messages table.
type Role string

const (
	// RoleUser marks a turn written by the account owner.
	RoleUser Role = "user"
	// RoleModel marks a turn produced by the generative model.
	RoleModel Role = "model"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleUser || r == RoleModel }

// User is an account able to sign in. The email is the identity used for
// authentication lookups and is unique.
//
// Fields:
//   - ID: auto-increment primary key.
//   - CreatedAt: creation timestamp, serialized as "date".
//   - Email: normalized (lower-case) login identifier.
//   - Password: bcrypt hash; never serialized.
type User struct {
	ID        uint      `json:"id"    gorm:"primaryKey"`
	CreatedAt time.Time `json:"date"`
	Email     string    `json:"email" gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	Password  string    `json:"-"     gorm:"type:varchar(255);not null"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chat is a conversation owned by a single user. It is created when a file
// is first summarized and holds the ordered turn history.
//
// Fields:
//   - ID: auto-increment primary key.
//   - UserID: owner; every lookup is filtered by it.
//   - CreatedAt: creation timestamp, serialized as "date".
//   - Messages: ordered turns; deleted together with the chat.
type Chat struct {
	ID        uint      `json:"id"       gorm:"primaryKey"`
	UserID    uint      `json:"-"        gorm:"not null;index:idx_user_chats"`
	CreatedAt time.Time `json:"date"`
	Messages  []Message `json:"messages" gorm:"foreignKey:ChatID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// User is the owning account. Chats are cascade-deleted with it.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is one turn of a chat. A user turn carries a File and a Prompt
// (first turn of a summarized file) or plain Text (later turns). A model turn
// always carries Text.
type Message struct {
	ID        uint      `json:"id"   gorm:"primaryKey"`
	ChatID    uint      `json:"-"    gorm:"not null;index:idx_chat_msgs"`
	Role      Role      `json:"role" gorm:"type:varchar(16);not null;check:role IN ('user','model')"`
	Text      *string   `json:"text" gorm:"type:text"`
	CreatedAt time.Time `json:"date"`

	// File is the uploaded document attached to this turn, if any.
	File *File `json:"file" gorm:"foreignKey:MessageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	// Prompt is the exact text sent to the model for this turn, if it differs
	// from Text. It is internal and never serialized.
	Prompt *Prompt `json:"-" gorm:"foreignKey:MessageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// File holds the metadata and extracted text of an uploaded PDF.
// At most one File belongs to a Message.
type File struct {
	ID        uint      `json:"id"       gorm:"primaryKey"`
	MessageID uint      `json:"-"        gorm:"not null;uniqueIndex:ux_files_message"`
	CreatedAt time.Time `json:"date"`
	Name      string    `json:"name"     gorm:"type:varchar(255);not null"`
	MimeType  string    `json:"mimeType" gorm:"type:varchar(127);not null"`
	URI       string    `json:"uri"      gorm:"type:text;not null"`
	Content   string    `json:"content"  gorm:"type:text;not null"`
}

// TableName returns the database table name for File.
func (File) TableName() string { return "files" }

// Prompt stores the full text sent to the model for a turn.
// At most one Prompt belongs to a Message.
type Prompt struct {
	ID        uint      `json:"id"   gorm:"primaryKey"`
	MessageID uint      `json:"-"    gorm:"not null;uniqueIndex:ux_prompts_message"`
	CreatedAt time.Time `json:"date"`
	Text      string    `json:"text" gorm:"type:text;not null"`
}

// TableName returns the database table name for Prompt.
func (Prompt) TableName() string { return "prompts" }

// All returns every persistent model in migration order.
func All() []any {
	return []any{&User{}, &Chat{}, &Message{}, &File{}, &Prompt{}, &Idempotency{}}
}
