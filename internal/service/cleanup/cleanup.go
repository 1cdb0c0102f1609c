package cleanup

import (
	"context"
	"time"

	"github.com/masjidku/masjidauth/internal/logger"
	"github.com/masjidku/masjidauth/internal/repository"
)

const defaultRevokedGrace = 30 * 24 * time.Hour

type Config struct {
	// How long revoked rows are retained before deletion
	// If not set then default (30 days) is used
	RevokedGrace time.Duration
}

// Result of a single sweep. An expired and revoked row is counted once,
// under whichever pass claims it first.
type Result struct {
	RevokedDeleted int64
	ExpiredDeleted int64
}

func (r Result) Total() int64 {
	return r.RevokedDeleted + r.ExpiredDeleted
}

// Sweeper purges refresh tokens that carry no further value: revoked rows
// past the audit grace window and any row past its expiry. Designed for a
// daily schedule, double-running it is idempotent.
type Sweeper struct {
	storage repository.Storage
	grace   time.Duration
	logger  logger.Logger
}

func New(cfg Config, storage repository.Storage, l logger.Logger) *Sweeper {
	if cfg.RevokedGrace == 0 {
		cfg.RevokedGrace = defaultRevokedGrace
	}

	if l == nil {
		l = logger.NewNoOp()
	}

	return &Sweeper{
		storage: storage,
		grace:   cfg.RevokedGrace,
		logger:  l.With("component", "cleanup"),
	}
}

// Sweep runs both deletion passes. With dryRun it reports counts without
// mutating storage. A failed pass is logged and the other pass still runs.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) (Result, error) {
	now := time.Now()
	revokedCutoff := now.Add(-s.grace)

	var result Result
	var firstErr error

	tokens := s.storage.Refresh()

	revoked, err := s.sweepPass(ctx, dryRun,
		func(ctx context.Context) (int64, error) { return tokens.CountRevokedBefore(ctx, revokedCutoff) },
		func(ctx context.Context) (int64, error) { return tokens.PurgeRevokedBefore(ctx, revokedCutoff) },
	)
	switch {
	case err != nil:
		s.logger.Error("revoked tokens pass failed", "error", err)
		firstErr = err
	default:
		result.RevokedDeleted = revoked
		s.logger.Info("revoked tokens pass done", "deleted", revoked, "dry_run", dryRun)
	}

	expired, err := s.sweepPass(ctx, dryRun,
		func(ctx context.Context) (int64, error) { return tokens.CountExpiredBefore(ctx, now, revokedCutoff) },
		func(ctx context.Context) (int64, error) { return tokens.PurgeExpiredBefore(ctx, now, revokedCutoff) },
	)
	switch {
	case err != nil:
		s.logger.Error("expired tokens pass failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	default:
		result.ExpiredDeleted = expired
		s.logger.Info("expired tokens pass done", "deleted", expired, "dry_run", dryRun)
	}

	return result, firstErr
}

func (s *Sweeper) sweepPass(ctx context.Context, dryRun bool, count, purge func(context.Context) (int64, error)) (int64, error) {
	if dryRun {
		return count(ctx)
	}
	return purge(ctx)
}
