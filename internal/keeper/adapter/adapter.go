// Package adapter presents the application-facing storage contract:
// conversations, reusable contexts, system prompts, and provider API keys,
// with the same interface across the embedded, directory-persisted, and
// server-delegating backends.
package adapter

import (
	"context"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/keeper/merge"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
)

// Reserved tags stamped on packets by kind. Filtering has to work over
// encrypted payloads, so the kind is mirrored into the tag index.
const (
	TagConversation = "chat-conversation"
	TagContext      = "chat-context"
	TagSystemPrompt = "chat-system-prompt"
)

// Conversation is the application view of a stored chat transcript.
type Conversation struct {
	ID      string
	OwnerID string
	Title   string
	Tags    []string

	CreatedAt time.Time
	UpdatedAt time.Time

	Messages     []models.Message
	Archived     bool
	Favorite     bool
	Participants []string
	Models       []string

	// Fork is set on conversations created by merge conflict resolution.
	Fork *models.ForkInfo

	// Broken marks a placeholder built from a payload that could not be
	// read (undecryptable or malformed). Such conversations carry no
	// messages and must not be written back.
	Broken bool
}

// ConversationInput creates a conversation. RequestID is the idempotency
// key: replaying the same input returns the originally created record.
type ConversationInput struct {
	RequestID string
	OwnerID   string
	Title     string
	Tags      []string

	Messages     []models.Message
	Archived     bool
	Favorite     bool
	Participants []string
}

// ConversationUpdate modifies a conversation. Nil fields stay untouched;
// Messages, when set, replaces the whole transcript.
type ConversationUpdate struct {
	RequestID string
	ID        string

	Title    *string
	Tags     []string
	Messages []models.Message
	Archived *bool
	Favorite *bool
}

// ListFilter narrows and pages a listing. Tags use AND semantics.
type ListFilter struct {
	OwnerID string
	Tags    []string
	From    time.Time
	To      time.Time

	Page  int
	Limit int
	// NewestFirst orders by creation time descending.
	NewestFirst bool
}

// Context is a reusable prompt context.
type Context struct {
	ID          string
	OwnerID     string
	Title       string
	Body        string
	Description string
	Documents   []string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Broken      bool
}

// ContextInput creates (empty ID) or replaces (set ID) a context.
type ContextInput struct {
	RequestID   string
	ID          string
	OwnerID     string
	Title       string
	Body        string
	Description string
	Documents   []string
	Tags        []string
}

// SystemPrompt is a reusable system prompt.
type SystemPrompt struct {
	ID        string
	OwnerID   string
	Title     string
	Prompt    string
	ModelIDs  []string
	IsDefault bool
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Broken    bool
}

// SystemPromptInput creates (empty ID) or replaces (set ID) a prompt.
type SystemPromptInput struct {
	RequestID string
	ID        string
	OwnerID   string
	Title     string
	Prompt    string
	ModelIDs  []string
	IsDefault bool
	Tags      []string
}

// Adapter is the storage contract. All mutations are durable in the
// backing store before the call returns; Sync pushes and reconciles them
// with remote storage where the backend has one.
type Adapter interface {
	CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error)
	UpdateConversation(ctx context.Context, upd ConversationUpdate) (*Conversation, error)
	GetConversationByID(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, f ListFilter) ([]*Conversation, error)
	GetMessages(ctx context.Context, id string) ([]models.Message, error)
	DeleteConversation(ctx context.Context, id string) error

	SaveContext(ctx context.Context, in ContextInput) (*Context, error)
	GetContext(ctx context.Context, id string) (*Context, error)
	ListContexts(ctx context.Context, f ListFilter) ([]*Context, error)
	DeleteContext(ctx context.Context, id string) error

	SaveSystemPrompt(ctx context.Context, in SystemPromptInput) (*SystemPrompt, error)
	GetSystemPrompt(ctx context.Context, id string) (*SystemPrompt, error)
	ListSystemPrompts(ctx context.Context, f ListFilter) ([]*SystemPrompt, error)
	DeleteSystemPrompt(ctx context.Context, id string) error

	SaveAPIKey(ctx context.Context, provider, ownerID, secret string) error
	GetAPIKey(ctx context.Context, provider, ownerID string) (string, error)
	IsAPIKeyAvailable(ctx context.Context, provider, ownerID string) (bool, error)
	DeleteAPIKey(ctx context.Context, provider, ownerID string) error

	// Sync reconciles local state with remote storage. Backends without a
	// remote return an empty summary. A second Sync while one is running
	// fails with common.ErrSyncInProgress.
	Sync(ctx context.Context) (merge.Summary, error)

	// IsOnline reports whether the backend's remote side is reachable.
	IsOnline(ctx context.Context) bool

	Close() error
}
