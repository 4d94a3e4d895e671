package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically demotes vanished participants and expires old messages.
type Sweeper struct {
	members  *MemberService
	chat     *ChatService
	interval time.Duration

	// OnDemoted receives the keys demoted by one pass, if set.
	OnDemoted func(ctx context.Context, keys []domain.ParticipantKey)
}

func NewSweeper(members *MemberService, chat *ChatService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{members: members, chat: chat, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Once(ctx)
		}
	}
}

// Once runs a single pass.
func (s *Sweeper) Once(ctx context.Context) {
	keys, err := s.members.Sweep(ctx)
	if err != nil {
		slog.WarnContext(ctx, "sweep: demote failed", "err", err)
	}
	if len(keys) > 0 {
		slog.InfoContext(ctx, "sweep: demoted stale participants", "count", len(keys))
		if s.OnDemoted != nil {
			s.OnDemoted(ctx, keys)
		}
	}

	if s.chat == nil {
		return
	}
	n, err := s.chat.PurgeExpired(ctx)
	if err != nil {
		slog.WarnContext(ctx, "sweep: retention purge failed", "err", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "sweep: expired messages removed", "count", n)
	}
}
