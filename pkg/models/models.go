// Package models holds the persisted document shapes. Field names double as
// storage schema keys, so renaming a JSON tag is a data migration.
package models

import (
	"sort"
)

// Role classifies a message inside a transcript. Roles are derived from
// authorship at read time and never persisted.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Thread is a persistent conversation between one user and one avatar.
// ID is always ThreadKey(UserID, AvatarID); the store rejects documents
// where the two disagree.
type Thread struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	AvatarID string `json:"avatar_id"`
	// Created/Modified timestamps (ns). ModifiedAt advances monotonically
	// whenever a message is appended.
	CreatedAt  int64 `json:"date_created"`
	ModifiedAt int64 `json:"date_modified"`
}

// ThreadKey returns the deterministic composite thread id for a
// (user, avatar) pair. The same pair always maps to the same thread.
func ThreadKey(userID, avatarID string) string {
	return userID + "_" + avatarID
}

// Message is a single chat message. AuthorID is empty for system-authored
// messages. SeenBy only ever grows; CreatedAt is immutable once set.
type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chat_id"`
	AuthorID string `json:"author_id,omitempty"`
	Content  string `json:"content"`
	// SeenBy lists viewer ids that have acknowledged this message.
	SeenBy    []string `json:"seen_by_ids"`
	CreatedAt int64    `json:"date_created"`
}

// Role derives the transcript role of m within its thread.
func (m Message) Role(th Thread) Role {
	switch m.AuthorID {
	case "":
		return RoleSystem
	case th.AvatarID:
		return RoleAssistant
	default:
		return RoleUser
	}
}

// SeenByViewer reports whether viewerID already acknowledged m.
func (m Message) SeenByViewer(viewerID string) bool {
	for _, id := range m.SeenBy {
		if id == viewerID {
			return true
		}
	}
	return false
}

// Report is an append-only moderation record; it is never mutated after
// creation.
type Report struct {
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	ReporterID string `json:"reporter_id"`
	IsActive   bool   `json:"is_active"`
	CreatedAt  int64  `json:"date_created"`
}

// SortMessages orders msgs in place by CreatedAt ascending. Ties break on ID
// so the display order is deterministic; insertion order at the storage layer
// is not assumed stable.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// SortThreads orders threads in place by ModifiedAt descending, the standard
// policy for chat lists.
func SortThreads(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].ModifiedAt > threads[j].ModifiedAt
	})
}
