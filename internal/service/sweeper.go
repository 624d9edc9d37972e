package service

import (
	"context"
	"time"

	"wallet-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// Sweeper cancels pending transactions whose confirmation window has
// lapsed. No funds move: pending transactions never touched a balance.
type Sweeper struct {
	txRepo     ports.TransactionRepository
	pendingTTL time.Duration
	interval   time.Duration
	log        zerolog.Logger
}

// NewSweeper creates a pending-transaction sweeper.
func NewSweeper(txRepo ports.TransactionRepository, pendingTTL, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		txRepo:     txRepo,
		pendingTTL: pendingTTL,
		interval:   interval,
		log:        log,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("pending_ttl", s.pendingTTL).
		Dur("interval", s.interval).
		Msg("pending-transaction sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("pending-transaction sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce cancels pendings older than the TTL and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	cutoff := time.Now().UTC().Add(-s.pendingTTL)

	swept, err := s.txRepo.ExpirePending(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep of expired pending transactions failed")
		return 0
	}
	if swept > 0 {
		s.log.Info().Int64("swept", swept).Time("cutoff", cutoff).Msg("expired pending transactions cancelled")
	}
	return swept
}
