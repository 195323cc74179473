package chat

import (
	"context"
	"time"

	"avatarchat/pkg/models"
)

// The orchestrator depends on narrow, constructor-injected contracts rather
// than a storage facade; each consumer takes only the slice it needs.
// *store.Store satisfies all three storage contracts.

// ChatStore persists thread metadata.
type ChatStore interface {
	// GetThread resolves the thread for a (user, avatar) pair; absence is
	// (nil, nil), not an error.
	GetThread(ctx context.Context, userID, avatarID string) (*models.Thread, error)
	GetThreadByID(ctx context.Context, threadID string) (*models.Thread, error)
	// CreateThread is an idempotent merge-upsert.
	CreateThread(ctx context.Context, th models.Thread) error
	ListThreads(ctx context.Context, userID string) ([]models.Thread, error)
	// DeleteThreadMeta removes metadata only; the message cascade is the
	// orchestrator's job.
	DeleteThreadMeta(ctx context.Context, threadID string) error
	TouchModified(ctx context.Context, threadID string, ts int64) error
}

// MessageStore persists and serves a thread's messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, m models.Message) error
	GetMessage(ctx context.Context, threadID, msgID string) (*models.Message, error)
	GetLastMessage(ctx context.Context, threadID string) (*models.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	MarkSeen(ctx context.Context, threadID, msgID, viewerID string) error
	DeleteAllMessages(ctx context.Context, threadID string) error
}

// ReportStore persists moderation reports.
type ReportStore interface {
	SaveReport(ctx context.Context, r models.Report) error
}

// Turn is one role-tagged element of the transcript handed to the reply
// generator, oldest first.
type Turn struct {
	Role    models.Role
	Content string
}

// ReplyGenerator produces the assistant's next message content for a
// transcript. Implementations must return a KindGeneration error rather than
// an empty completion.
type ReplyGenerator interface {
	Generate(ctx context.Context, turns []Turn) (string, error)
}

// PersonaProvider supplies the optional persona description for an avatar;
// empty string means no system prompt is injected.
type PersonaProvider interface {
	Description(ctx context.Context, avatarID string) (string, error)
}

// PersonaMap is a static PersonaProvider, typically loaded from config.
type PersonaMap map[string]string

func (p PersonaMap) Description(_ context.Context, avatarID string) (string, error) {
	return p[avatarID], nil
}

// Clock supplies message timestamps. Injected so tests control time; a
// message's date_created is set from this clock exactly once and never
// recomputed.
type Clock func() time.Time
