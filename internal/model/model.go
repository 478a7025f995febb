package model

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls who may read or write a chat besides its owner.
type Visibility string

const (
	VisibilityPrivate       Visibility = "private"
	VisibilityPublic        Visibility = "public"
	VisibilityCollaborative Visibility = "collaborative"
)

// AllowsRead returns true if non-owners may read the chat.
func (v Visibility) AllowsRead() bool {
	return v == VisibilityPublic || v == VisibilityCollaborative
}

// AllowsWrite returns true if non-owners may mutate the chat.
func (v Visibility) AllowsWrite() bool {
	return v == VisibilityCollaborative
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Chat is the aggregate root external callers address. ActiveBranchID points at
// the branch currently in view; BaseMessages is the message prefix shared by
// every branch reachable from the current divergence point; ActiveMessages is a
// denormalized cache of BaseMessages ++ the active branch's messages, refreshed
// after every structural change and never hand-edited.
type Chat struct {
	ID             uuid.UUID   `json:"id"                       gorm:"primaryKey;type:uuid"`
	OwnerUserID    string      `json:"ownerUserId"              gorm:"not null;index"`
	Title          string      `json:"title"`
	Visibility     Visibility  `json:"visibility"               gorm:"not null;default:'private'"`
	ActiveBranchID *uuid.UUID  `json:"activeBranchId,omitempty" gorm:"type:uuid"`
	BaseMessages   []uuid.UUID `json:"baseMessages"             gorm:"serializer:json"`
	ActiveMessages []uuid.UUID `json:"activeMessages"           gorm:"serializer:json"`
	CreatedAt      time.Time   `json:"createdAt"                gorm:"not null"`
	UpdatedAt      time.Time   `json:"updatedAt"                gorm:"not null"`
}

func (Chat) TableName() string { return "chats" }

// Branch is one continuation of a conversation. Exactly one branch per chat has
// IsMain set; it is created at chat inception and never deleted, even if emptied.
// FromMessageID is the divergence point, absent for the main branch.
type Branch struct {
	ID            uuid.UUID   `json:"id"                      gorm:"primaryKey;type:uuid"`
	ChatID        uuid.UUID   `json:"chatId"                  gorm:"not null;type:uuid;index"`
	FromMessageID *uuid.UUID  `json:"fromMessageId,omitempty" gorm:"type:uuid"`
	Messages      []uuid.UUID `json:"messages"                gorm:"serializer:json"`
	IsMain        bool        `json:"isMain"                  gorm:"not null;default:false"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	CreatedAt     time.Time   `json:"createdAt"               gorm:"not null"`
}

func (Branch) TableName() string { return "branches" }

// Message is a single conversation turn. BranchID is the branch the message was
// inserted under (physical ownership). Branches is the set of sibling branches
// rooted at this message's position, populated once the message has been edited;
// ActiveBranchID selects which of those siblings is the current continuation and
// is always a member of Branches when Branches is non-empty.
type Message struct {
	ID             uuid.UUID   `json:"id"                       gorm:"primaryKey;type:uuid"`
	ChatID         uuid.UUID   `json:"chatId"                   gorm:"not null;type:uuid;index"`
	BranchID       uuid.UUID   `json:"branchId"                 gorm:"not null;type:uuid;index"`
	Role           Role        `json:"role"                     gorm:"not null"`
	Content        string      `json:"content"`
	Model          string      `json:"model,omitempty"`
	Branches       []uuid.UUID `json:"branches,omitempty"       gorm:"serializer:json"`
	ActiveBranchID *uuid.UUID  `json:"activeBranchId,omitempty" gorm:"type:uuid"`
	CreatedAt      time.Time   `json:"createdAt"                gorm:"not null;index"`
}

func (Message) TableName() string { return "messages" }

// HasVariants reports whether this message is a divergence point.
func (m *Message) HasVariants() bool { return len(m.Branches) > 0 }

// UserPreferences holds per-user settings; deleted along with the account.
type UserPreferences struct {
	UserID       string         `json:"userId"                 gorm:"primaryKey"`
	DefaultModel string         `json:"defaultModel,omitempty"`
	Theme        string         `json:"theme,omitempty"`
	Metadata     map[string]any `json:"metadata"               gorm:"type:jsonb;serializer:json"`
	UpdatedAt    time.Time      `json:"updatedAt"              gorm:"not null"`
}

func (UserPreferences) TableName() string { return "user_preferences" }
