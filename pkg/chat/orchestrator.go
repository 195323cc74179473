// Package chat implements the session and message-orchestration core: thread
// resolution, the send/generate/persist turn-taking protocol, seen tracking
// and moderation. It owns sequencing only; storage consistency belongs to
// the stores and transport belongs to the presentation layer.
package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"avatarchat/pkg/errs"
	"avatarchat/pkg/events"
	"avatarchat/pkg/logger"
	"avatarchat/pkg/models"
	"avatarchat/pkg/telemetry"
	"avatarchat/pkg/utils"
	"avatarchat/pkg/validation"
)

// Orchestrator drives the per-send state machine:
//
//	Idle -> Validating -> EnsuringThread -> PersistingUserMessage
//	     -> GeneratingReply -> PersistingReply -> Idle
//
// with Error reachable from every state. Concurrent sends to the same
// thread are serialized internally; distinct threads never contend.
type Orchestrator struct {
	chats    ChatStore
	msgs     MessageStore
	reports  ReportStore
	gen      ReplyGenerator
	personas PersonaProvider
	sink     events.Sink
	clock    Clock
	rules    validation.Rules
	newID    func() string

	mu      sync.Mutex
	threads map[string]*threadState
}

type threadState struct {
	mu         sync.Mutex
	refs       int
	generating bool
}

// Options carries the optional collaborators; zero values get sane defaults.
type Options struct {
	Personas PersonaProvider
	Sink     events.Sink
	Clock    Clock
	Rules    validation.Rules
	NewID    func() string
}

func New(chats ChatStore, msgs MessageStore, reports ReportStore, gen ReplyGenerator, opts Options) *Orchestrator {
	o := &Orchestrator{
		chats:    chats,
		msgs:     msgs,
		reports:  reports,
		gen:      gen,
		personas: opts.Personas,
		sink:     opts.Sink,
		clock:    opts.Clock,
		rules:    opts.Rules,
		newID:    opts.NewID,
		threads:  make(map[string]*threadState),
	}
	if o.personas == nil {
		o.personas = PersonaMap{}
	}
	if o.sink == nil {
		o.sink = events.Nop{}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.newID == nil {
		o.newID = utils.GenMessageID
	}
	return o
}

// SendRequest describes one user send. ThreadID is optional; when empty the
// deterministic composite key for (UserID, AvatarID) is used.
type SendRequest struct {
	UserID   string
	AvatarID string
	Text     string
	ThreadID string
}

// SendResult reports what a successful send persisted.
type SendResult struct {
	ThreadID    string
	UserMessage models.Message
	Reply       models.Message
}

// SendMessage runs the full turn: validate, ensure the thread, persist the
// user message, generate the reply, persist it. The user message is durable
// before generation starts, so a generation failure leaves the thread in a
// valid, retryable state with no rollback.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.UserID == "" {
		return nil, o.fail("send_unauthenticated", "", errs.Unauthenticated("no caller identity"))
	}

	// Validating: no side effects on rejection.
	if err := o.rules.Check(req.Text); err != nil {
		return nil, o.fail("send_rejected", "", err)
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = models.ThreadKey(req.UserID, req.AvatarID)
	}

	st := o.acquire(threadID)
	st.mu.Lock()
	defer func() {
		st.mu.Unlock()
		o.release(threadID, st)
	}()

	now := o.clock().UTC().UnixNano()

	// EnsuringThread: idempotent upsert, so the lazy-create path and the
	// existing-thread path are the same call. This happens before the user
	// message is persisted so subscribers attached to the thread never miss
	// the first message.
	th := models.Thread{ID: threadID, UserID: req.UserID, AvatarID: req.AvatarID, CreatedAt: now, ModifiedAt: now}
	if err := o.chats.CreateThread(ctx, th); err != nil {
		return nil, o.fail("thread_ensure_failed", threadID, err)
	}
	o.sink.Emit("thread_ensured", zap.String("thread", threadID))

	// PersistingUserMessage: the sender has implicitly seen their own
	// message.
	userMsg := models.Message{
		ID:        o.newID(),
		ChatID:    threadID,
		AuthorID:  req.UserID,
		Content:   req.Text,
		SeenBy:    []string{req.UserID},
		CreatedAt: now,
	}
	if err := o.msgs.AppendMessage(ctx, userMsg); err != nil {
		return nil, o.fail("user_message_persist_failed", threadID, err)
	}
	if err := o.chats.TouchModified(ctx, threadID, now); err != nil {
		return nil, o.fail("thread_touch_failed", threadID, err)
	}
	telemetry.MessagesAppended.WithLabelValues(string(models.RoleUser)).Inc()
	o.sink.Emit("user_message_persisted", zap.String("thread", threadID), zap.String("msg", userMsg.ID))

	// GeneratingReply
	turns, err := o.buildTranscript(ctx, th)
	if err != nil {
		return nil, o.fail("transcript_build_failed", threadID, err)
	}

	o.setGenerating(st, true)
	o.sink.Emit("reply_generating", zap.String("thread", threadID))
	start := time.Now()
	content, genErr := o.gen.Generate(ctx, turns)
	telemetry.GenerationSeconds.Observe(time.Since(start).Seconds())
	o.setGenerating(st, false)

	if genErr != nil {
		// The user's message stays persisted; the send ends in Error and
		// the thread is left consistent for a retry. A cancelled generation
		// must never persist a reply either.
		telemetry.GenerationFailures.Inc()
		if errs.KindOf(genErr) != errs.KindGeneration {
			genErr = errs.Generation("reply generation failed", genErr)
		}
		return nil, o.fail("reply_generation_failed", threadID, genErr)
	}
	if err := ctx.Err(); err != nil {
		telemetry.GenerationFailures.Inc()
		return nil, o.fail("reply_generation_cancelled", threadID, errs.Generation("generation cancelled", err))
	}

	// PersistingReply: not yet seen by anyone.
	reply := models.Message{
		ID:        o.newID(),
		ChatID:    threadID,
		AuthorID:  req.AvatarID,
		Content:   content,
		SeenBy:    []string{},
		CreatedAt: o.clock().UTC().UnixNano(),
	}
	if err := o.msgs.AppendMessage(ctx, reply); err != nil {
		return nil, o.fail("reply_persist_failed", threadID, err)
	}
	if err := o.chats.TouchModified(ctx, threadID, reply.CreatedAt); err != nil {
		return nil, o.fail("thread_touch_failed", threadID, err)
	}
	telemetry.MessagesAppended.WithLabelValues(string(models.RoleAssistant)).Inc()
	o.sink.Emit("reply_persisted", zap.String("thread", threadID), zap.String("msg", reply.ID))

	return &SendResult{ThreadID: threadID, UserMessage: userMsg, Reply: reply}, nil
}

// buildTranscript maps the thread's ordered messages to role/content turns,
// prefixed with a single system turn when the avatar has a persona
// description. Transcript order is the display order, oldest first.
func (o *Orchestrator) buildTranscript(ctx context.Context, th models.Thread) ([]Turn, error) {
	msgs, err := o.msgs.ListMessages(ctx, th.ID)
	if err != nil {
		return nil, err
	}
	models.SortMessages(msgs)

	persona, err := o.personas.Description(ctx, th.AvatarID)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(msgs)+1)
	if persona != "" {
		turns = append(turns, Turn{Role: models.RoleSystem, Content: persona})
	}
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role(th), Content: m.Content})
	}
	return turns, nil
}

// Generating reports whether a reply is in flight for the thread, so a
// caller can disable duplicate sends.
func (o *Orchestrator) Generating(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.threads[threadID]
	return st != nil && st.generating
}

// MarkMessageSeen records a read receipt. Best-effort: storage failures are
// logged and swallowed, never retried. Unknown messages surface as NotFound
// so the caller can drop stale receipts.
func (o *Orchestrator) MarkMessageSeen(ctx context.Context, threadID, msgID, viewerID string) error {
	err := o.msgs.MarkSeen(ctx, threadID, msgID, viewerID)
	if err == nil {
		o.sink.Emit("message_seen", zap.String("thread", threadID), zap.String("msg", msgID), zap.String("viewer", viewerID))
		return nil
	}
	if errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	logger.Log.Warn("mark_seen_failed", zap.String("thread", threadID), zap.String("msg", msgID), zap.Error(err))
	return nil
}

// ReportThread files a moderation report. The thread and its messages are
// untouched and remain usable.
func (o *Orchestrator) ReportThread(ctx context.Context, threadID, reporterID string) (*models.Report, error) {
	if reporterID == "" {
		return nil, errs.Unauthenticated("no caller identity")
	}
	r := models.Report{
		ID:         utils.GenReportID(),
		ChatID:     threadID,
		ReporterID: reporterID,
		IsActive:   true,
		CreatedAt:  o.clock().UTC().UnixNano(),
	}
	if err := o.reports.SaveReport(ctx, r); err != nil {
		return nil, err
	}
	o.sink.Emit("thread_reported", zap.String("thread", threadID), zap.String("reporter", reporterID))
	return &r, nil
}

// DeleteThread removes the thread and cascades to its messages. Metadata
// goes first: a crash in between leaves an orphaned message set for the
// retention sweeper, never a live thread pointing at nothing.
func (o *Orchestrator) DeleteThread(ctx context.Context, threadID string) error {
	st := o.acquire(threadID)
	st.mu.Lock()
	defer func() {
		st.mu.Unlock()
		o.release(threadID, st)
	}()

	if err := o.chats.DeleteThreadMeta(ctx, threadID); err != nil {
		return o.fail("thread_delete_failed", threadID, err)
	}
	if err := o.msgs.DeleteAllMessages(ctx, threadID); err != nil {
		return o.fail("message_cascade_failed", threadID, err)
	}
	telemetry.ThreadsDeleted.Inc()
	o.sink.Emit("thread_deleted", zap.String("thread", threadID))
	return nil
}

// fail emits the terminal event for a send that ended in Error and counts
// it, then hands the error back unchanged.
func (o *Orchestrator) fail(event, threadID string, err error) error {
	telemetry.SendErrors.WithLabelValues(string(errs.KindOf(err))).Inc()
	fields := []zap.Field{zap.Error(err)}
	if threadID != "" {
		fields = append(fields, zap.String("thread", threadID))
	}
	o.sink.Emit(event, fields...)
	return err
}

func (o *Orchestrator) acquire(threadID string) *threadState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.threads[threadID]
	if st == nil {
		st = &threadState{}
		o.threads[threadID] = st
	}
	st.refs++
	return st
}

func (o *Orchestrator) release(threadID string, st *threadState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.refs--
	if st.refs <= 0 {
		delete(o.threads, threadID)
	}
}

func (o *Orchestrator) setGenerating(st *threadState, v bool) {
	o.mu.Lock()
	st.generating = v
	o.mu.Unlock()
}
