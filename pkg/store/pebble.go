// Package store persists threads, messages and reports as JSON documents in
// a Pebble key-value store. It implements the narrow ChatStore/MessageStore
// contracts from pkg/chat; all consistency above read-your-writes is the
// orchestrator's problem.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"avatarchat/pkg/errs"
	"avatarchat/pkg/logger"
	"avatarchat/pkg/models"
)

// Store is a handle on an open Pebble database. Safe for concurrent use.
type Store struct {
	db *pebble.DB

	mu       sync.RWMutex
	notifier func(threadID string)

	// seenMu serializes the MarkSeen read-modify-write so concurrent
	// receipts from different viewers never overwrite each other.
	seenMu sync.Mutex
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, errs.Storage("open store", err)
	}
	logger.Log.Info("pebble_opened", zap.String("path", path))
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Storage("close store", err)
	}
	logger.Log.Info("pebble_closed")
	return nil
}

// SetNotifier registers fn to run after every message mutation in a thread.
// The stream hub uses this to push fresh snapshots; fn must not block.
func (s *Store) SetNotifier(fn func(threadID string)) {
	s.mu.Lock()
	s.notifier = fn
	s.mu.Unlock()
}

func (s *Store) notify(threadID string) {
	s.mu.RLock()
	fn := s.notifier
	s.mu.RUnlock()
	if fn != nil {
		fn(threadID)
	}
}

// encode marshals v into a pooled buffer. The caller must release the
// returned buffer after the bytes have been handed to Pebble (Set copies).
func encode(v any) (*bytebufferpool.ByteBuffer, error) {
	bb := bytebufferpool.Get()
	if err := json.NewEncoder(bb).Encode(v); err != nil {
		bytebufferpool.Put(bb)
		return nil, err
	}
	return bb, nil
}

// --- ChatStore contract ---

// GetThread looks up the thread for a (user, avatar) pair. Absence is not an
// error: it returns (nil, nil).
func (s *Store) GetThread(ctx context.Context, userID, avatarID string) (*models.Thread, error) {
	return s.GetThreadByID(ctx, models.ThreadKey(userID, avatarID))
}

// GetThreadByID returns thread metadata by composite id, or (nil, nil) when
// absent.
func (s *Store) GetThreadByID(ctx context.Context, threadID string) (*models.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, closer, err := s.db.Get(threadMetaKey(threadID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("get thread", err)
	}
	defer closer.Close()
	var th models.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		return nil, errs.Storage("decode thread", err)
	}
	return &th, nil
}

// CreateThread upserts thread metadata idempotently. The composite id is
// enforced at this boundary: a thread whose ID disagrees with its
// (UserID, AvatarID) pair is rejected rather than trusted. Re-creating an
// existing thread merges instead of overwriting: date_created is preserved
// and date_modified never moves backwards.
func (s *Store) CreateThread(ctx context.Context, th models.Thread) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if th.ID != models.ThreadKey(th.UserID, th.AvatarID) {
		return errs.Validation("thread id does not match user/avatar pair")
	}
	existing, err := s.GetThreadByID(ctx, th.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		th.CreatedAt = existing.CreatedAt
		if existing.ModifiedAt > th.ModifiedAt {
			th.ModifiedAt = existing.ModifiedAt
		}
	}
	bb, err := encode(th)
	if err != nil {
		return errs.Storage("encode thread", err)
	}
	defer bytebufferpool.Put(bb)
	if err := s.db.Set(threadMetaKey(th.ID), bb.B, pebble.Sync); err != nil {
		logger.Log.Error("save_thread_failed", zap.String("thread", th.ID), zap.Error(err))
		return errs.Storage("save thread", err)
	}
	logger.Log.Info("thread_saved", zap.String("thread", th.ID))
	return nil
}

// ListThreads returns all thread metadata for a user, unordered. Callers
// sort by date_modified descending when rendering.
func (s *Store) ListThreads(ctx context.Context, userID string) ([]models.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := userThreadPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, errs.Storage("iterate threads", err)
	}
	defer iter.Close()
	var out []models.Thread
	for iter.First(); iter.Valid(); iter.Next() {
		// the prefix also matches message and index keys; only meta keys
		// carry thread documents
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			return nil, errs.Storage("decode thread", err)
		}
		// Ids are opaque and may contain the separator, so the key prefix
		// alone is not an ownership proof: "U1_" also covers user "U1_X".
		// The decoded document is authoritative.
		if th.UserID != userID {
			continue
		}
		out = append(out, th)
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Storage("iterate threads", err)
	}
	return out, nil
}

// DeleteThreadMeta removes thread metadata only; the message cascade is the
// orchestrator's responsibility.
func (s *Store) DeleteThreadMeta(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete(threadMetaKey(threadID), pebble.Sync); err != nil {
		logger.Log.Error("delete_thread_failed", zap.String("thread", threadID), zap.Error(err))
		return errs.Storage("delete thread", err)
	}
	logger.Log.Info("thread_deleted", zap.String("thread", threadID))
	return nil
}

// TouchModified advances the thread's date_modified to ts. Moves only
// forward; an older ts is a no-op.
func (s *Store) TouchModified(ctx context.Context, threadID string, ts int64) error {
	th, err := s.GetThreadByID(ctx, threadID)
	if err != nil {
		return err
	}
	if th == nil {
		return errs.NotFound("thread not found: " + threadID)
	}
	if ts <= th.ModifiedAt {
		return nil
	}
	th.ModifiedAt = ts
	bb, err := encode(th)
	if err != nil {
		return errs.Storage("encode thread", err)
	}
	defer bytebufferpool.Put(bb)
	if err := s.db.Set(threadMetaKey(threadID), bb.B, pebble.Sync); err != nil {
		return errs.Storage("touch thread", err)
	}
	return nil
}

// --- MessageStore contract ---

// AppendMessage persists m. Idempotent by message id: the document key is
// derived from (CreatedAt, ID), so re-appending the same message overwrites
// instead of duplicating. Subscribers are notified after the write.
func (s *Store) AppendMessage(ctx context.Context, m models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ID == "" || m.ChatID == "" || m.CreatedAt == 0 {
		return errs.Validation("message requires id, chat_id and date_created")
	}
	key := msgKey(m.ChatID, m.CreatedAt, m.ID)

	batch := s.db.NewBatch()
	defer batch.Close()

	// If a previous version lives under a different key (should not happen:
	// date_created is immutable), drop it so the id index stays single-valued.
	if old, closer, err := s.db.Get(msgIdxKey(m.ChatID, m.ID)); err == nil {
		if !bytes.Equal(old, key) {
			_ = batch.Delete(append([]byte(nil), old...), nil)
		}
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return errs.Storage("read message index", err)
	}

	bb, err := encode(m)
	if err != nil {
		return errs.Storage("encode message", err)
	}
	defer bytebufferpool.Put(bb)
	if err := batch.Set(key, bb.B, nil); err != nil {
		return errs.Storage("batch message", err)
	}
	if err := batch.Set(msgIdxKey(m.ChatID, m.ID), key, nil); err != nil {
		return errs.Storage("batch message index", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Log.Error("save_message_failed", zap.String("thread", m.ChatID), zap.String("msg", m.ID), zap.Error(err))
		return errs.Storage("save message", err)
	}
	logger.Log.Info("message_saved", zap.String("thread", m.ChatID), zap.String("msg", m.ID))
	s.notify(m.ChatID)
	return nil
}

// GetMessage returns a message by id within a thread.
func (s *Store) GetMessage(ctx context.Context, threadID, msgID string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docKey, closer, err := s.db.Get(msgIdxKey(threadID, msgID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errs.NotFound("message not found: " + msgID)
	}
	if err != nil {
		return nil, errs.Storage("read message index", err)
	}
	key := append([]byte(nil), docKey...)
	closer.Close()

	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errs.NotFound("message not found: " + msgID)
	}
	if err != nil {
		return nil, errs.Storage("get message", err)
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, errs.Storage("decode message", err)
	}
	return &m, nil
}

// ListMessages returns every message in a thread. Key order already follows
// date_created, but callers re-sort; stored order is not part of the
// contract.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, errs.Storage("iterate messages", err)
	}
	defer iter.Close()
	var out []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, errs.Storage("decode message", err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Storage("iterate messages", err)
	}
	return out, nil
}

// GetLastMessage returns the message with the greatest date_created, or
// (nil, nil) when the thread has none.
func (s *Store) GetLastMessage(ctx context.Context, threadID string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := msgPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, errs.Storage("iterate messages", err)
	}
	defer iter.Close()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, errs.Storage("iterate messages", err)
		}
		return nil, nil
	}
	var m models.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return nil, errs.Storage("decode message", err)
	}
	return &m, nil
}

// MarkSeen adds viewerID to the message's seen set. Already-seen is a no-op,
// so the operation is idempotent and the set only ever grows: the get and
// the rewrite run under seenMu, so a concurrent receipt cannot drop an
// already-persisted viewer.
func (s *Store) MarkSeen(ctx context.Context, threadID, msgID, viewerID string) error {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	m, err := s.GetMessage(ctx, threadID, msgID)
	if err != nil {
		return err
	}
	if m.SeenByViewer(viewerID) {
		return nil
	}
	m.SeenBy = append(m.SeenBy, viewerID)
	bb, err := encode(m)
	if err != nil {
		return errs.Storage("encode message", err)
	}
	defer bytebufferpool.Put(bb)
	if err := s.db.Set(msgKey(m.ChatID, m.CreatedAt, m.ID), bb.B, pebble.Sync); err != nil {
		logger.Log.Error("mark_seen_failed", zap.String("thread", threadID), zap.String("msg", msgID), zap.Error(err))
		return errs.Storage("mark seen", err)
	}
	logger.Log.Debug("message_seen", zap.String("thread", threadID), zap.String("msg", msgID), zap.String("viewer", viewerID))
	s.notify(threadID)
	return nil
}

// DeleteAllMessages removes every message (and index entry) in a thread.
func (s *Store) DeleteAllMessages(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, prefix := range [][]byte{msgPrefix(threadID), msgIdxPrefix(threadID)} {
		if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
			return errs.Storage("delete messages", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Log.Error("delete_messages_failed", zap.String("thread", threadID), zap.Error(err))
		return errs.Storage("delete messages", err)
	}
	logger.Log.Info("messages_deleted", zap.String("thread", threadID))
	s.notify(threadID)
	return nil
}

// --- Reports ---

// SaveReport persists an append-only moderation report.
func (s *Store) SaveReport(ctx context.Context, r models.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" || r.ChatID == "" {
		return errs.Validation("report requires id and chat_id")
	}
	bb, err := encode(r)
	if err != nil {
		return errs.Storage("encode report", err)
	}
	defer bytebufferpool.Put(bb)
	if err := s.db.Set(reportKey(r.ChatID, r.ID), bb.B, pebble.Sync); err != nil {
		return errs.Storage("save report", err)
	}
	logger.Log.Info("report_saved", zap.String("thread", r.ChatID), zap.String("report", r.ID))
	return nil
}

// ListReports returns the reports filed against a thread.
func (s *Store) ListReports(ctx context.Context, threadID string) ([]models.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := reportPrefix(threadID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, errs.Storage("iterate reports", err)
	}
	defer iter.Close()
	var out []models.Report
	for iter.First(); iter.Valid(); iter.Next() {
		var r models.Report
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, errs.Storage("decode report", err)
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Storage("iterate reports", err)
	}
	return out, nil
}

// --- Retention support ---

// ThreadIDsWithMessages scans the message keyspace and returns the distinct
// thread ids that still own message documents.
func (s *Store) ThreadIDsWithMessages(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte("chat:")
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, errs.Storage("iterate keys", err)
	}
	defer iter.Close()
	seen := map[string]struct{}{}
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		tid := threadIDFromMsgKey(string(iter.Key()))
		if tid == "" {
			continue
		}
		if _, ok := seen[tid]; ok {
			continue
		}
		seen[tid] = struct{}{}
		out = append(out, tid)
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Storage("iterate keys", err)
	}
	return out, nil
}
