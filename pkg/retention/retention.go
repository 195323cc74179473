// Package retention garbage-collects orphaned message sets. Thread deletion
// removes metadata before messages, so a crash in between can leave messages
// with no owning thread; the sweeper reclaims them on a cron schedule.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"avatarchat/pkg/logger"
	"avatarchat/pkg/models"
	"avatarchat/pkg/telemetry"
)

// SweepStore is the slice of the store the sweeper needs.
type SweepStore interface {
	ThreadIDsWithMessages(ctx context.Context) ([]string, error)
	GetThreadByID(ctx context.Context, threadID string) (*models.Thread, error)
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	DeleteAllMessages(ctx context.Context, threadID string) error
}

// Sweeper runs the orphan sweep whenever its cron expression is due.
type Sweeper struct {
	store SweepStore
	cron  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the cron expression and returns a stopped sweeper.
func New(store SweepStore, cron string) (*Sweeper, error) {
	if !gronx.New().IsValid(cron) {
		return nil, &InvalidCronError{Expr: cron}
	}
	return &Sweeper{store: store, cron: cron}, nil
}

type InvalidCronError struct{ Expr string }

func (e *InvalidCronError) Error() string { return "invalid retention cron: " + e.Expr }

// Start launches the scheduler goroutine. The expression is checked once per
// minute; a sweep already in progress is never overlapped because the loop is
// single-threaded.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	logger.Log.Info("retention_started", zap.String("cron", s.cron))
}

// Stop cancels the scheduler and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	logger.Log.Info("retention_stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	g := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(s.cron, time.Now())
			if err != nil || !due {
				continue
			}
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Log.Error("retention_sweep_failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep pass and returns the number of orphaned
// messages removed. A thread id counts as orphaned when messages exist but
// its metadata document does not.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ids, err := s.store.ThreadIDsWithMessages(ctx)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, tid := range ids {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		th, err := s.store.GetThreadByID(ctx, tid)
		if err != nil {
			logger.Log.Warn("retention_lookup_failed", zap.String("thread", tid), zap.Error(err))
			continue
		}
		if th != nil {
			continue
		}
		msgs, err := s.store.ListMessages(ctx, tid)
		if err != nil {
			logger.Log.Warn("retention_list_failed", zap.String("thread", tid), zap.Error(err))
			continue
		}
		if err := s.store.DeleteAllMessages(ctx, tid); err != nil {
			logger.Log.Warn("retention_delete_failed", zap.String("thread", tid), zap.Error(err))
			continue
		}
		swept += len(msgs)
		telemetry.OrphanMessagesSwept.Add(float64(len(msgs)))
		logger.Log.Info("orphan_messages_swept", zap.String("thread", tid), zap.Int("count", len(msgs)))
	}
	return swept, nil
}
