// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tabletale/tabletale/pkg/config"
	"github.com/tabletale/tabletale/pkg/database"
)

// Service periodically enforces retention policies:
//   - Archives finished and never-started games past their retention
//   - Removes chat messages of archived games past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config config.RetentionConfig
	db     database.Querier

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, db database.Querier) *Service {
	return &Service{config: cfg, db: db}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"game_retention", s.config.GameRetention,
		"message_ttl", s.config.MessageTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.archiveStaleGames(ctx)
	s.purgeArchivedMessages(ctx)
}

// archiveStaleGames archives games nobody will come back to: finished
// ones and lobbies that never started, both past the retention window.
// Playing games are never touched.
func (s *Service) archiveStaleGames(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.GameRetention)
	tag, err := s.db.Exec(ctx,
		`UPDATE games SET status = 'archived'
		 WHERE status IN ('finished', 'waiting') AND created_at < $1`,
		cutoff)
	if err != nil {
		slog.Error("Retention: archive stale games failed", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		slog.Info("Retention: archived stale games", "count", tag.RowsAffected())
	}
}

func (s *Service) purgeArchivedMessages(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MessageTTL)
	tag, err := s.db.Exec(ctx,
		`DELETE FROM messages m
		 USING chats c, games g
		 WHERE m.chat_id = c.id AND c.game_id = g.id
		   AND g.status = 'archived' AND m.sent_at < $1`,
		cutoff)
	if err != nil {
		slog.Error("Retention: message cleanup failed", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		slog.Info("Retention: purged archived chat messages", "count", tag.RowsAffected())
	}
}
