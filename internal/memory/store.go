// Package memory provides conversation memory storage.
//
// Conversations and their messages are append-only from the agent's
// point of view: a conversation's title and updated timestamp are the
// only fields ever rewritten, and messages are never edited or removed.
// Upload structures (the extracted tree's root and layout JSON) are kept
// alongside so a review run can resolve its confinement root.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a conversation or structure does not exist.
var ErrNotFound = errors.New("not found")

// Message roles persisted by the store.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store is the conversation store contract used by the agent and the API.
type Store interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AddMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
	ListConversations(ctx context.Context, userID, subjectID string) ([]ConversationSummary, error)
	SaveStructure(ctx context.Context, s *Structure) error
	GetStructure(ctx context.Context, subjectID string) (*Structure, error)
}

// Conversation is one chat thread about an uploaded subject.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is a conversation row with message statistics.
type ConversationSummary struct {
	Conversation
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id,omitempty"`
	Role           string          `json:"role"` // user, assistant
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Structure records where an upload was extracted and, optionally, a
// JSON description of its tree.
type Structure struct {
	SubjectID string          `json:"subject_id"`
	JSON      json.RawMessage `json:"structure,omitempty"`
	Root      string          `json:"root,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResolveRoot returns the root named inside the structure JSON, falling
// back to the stored root column. It returns "" when neither is usable.
func (s *Structure) ResolveRoot() string {
	if s == nil {
		return ""
	}
	if root := RootFromJSON(s.JSON); root != "" {
		return root
	}
	return strings.TrimSpace(s.Root)
}

// RootFromJSON extracts a top-level "root" string from structure JSON.
func RootFromJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc struct {
		Root string `json:"root"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Root)
}

// TitleFrom derives a conversation title from the opening message.
func TitleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	const maxTitle = 60
	if r := []rune(title); len(r) > maxTitle {
		title = strings.TrimSpace(string(r[:maxTitle])) + "…"
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
