/*
sweeper.go - Abandoned checkout sweeper

PURPOSE:
  Buyers who close the hosted payment page never come back to confirm,
  leaving their transaction pending forever. The sweeper periodically
  moves pending transactions older than PendingTTL to expired.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Uses the ledger's conditional transition, so a buyer confirming at
    the same moment wins or loses cleanly and is never double-settled

CONFIGURATION:
  - CheckInterval: How often to sweep (checkout.sweep_interval, default 1h)
  - PendingTTL:    Age at which a pending transaction is abandoned
                   (checkout.pending_ttl, default 24h)

USAGE:
  sweeper := NewCheckoutSweeper(ledger, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - market/ledger.go: ExpireAbandoned
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Expirer expires stale pending transactions.
type Expirer interface {
	ExpireAbandoned(ctx context.Context, cutoff time.Time) (int, error)
}

// CheckoutSweeper expires abandoned checkouts on a timer.
type CheckoutSweeper struct {
	Ledger        Expirer
	CheckInterval time.Duration
	PendingTTL    time.Duration
	Enabled       bool
	// Now overrides the clock in tests.
	Now func() time.Time

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCheckoutSweeper creates a sweeper with default timings.
func NewCheckoutSweeper(ledger Expirer, logger *slog.Logger) *CheckoutSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutSweeper{
		Ledger:        ledger,
		CheckInterval: time.Hour,
		PendingTTL:    24 * time.Hour,
		Enabled:       true,
		Now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("component", "sweeper"),
	}
}

// Start begins the sweeper.
func (s *CheckoutSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)

	go s.run()

	s.logger.Info("started", "interval", s.CheckInterval, "pending_ttl", s.PendingTTL)
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *CheckoutSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		s.cancel()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("stopped")
	}
}

func (s *CheckoutSweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep(s.ctx)

	for {
		select {
		case <-s.ticker.C:
			s.sweep(s.ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously and returns how many
// transactions it expired.
func (s *CheckoutSweeper) RunNow(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.PendingTTL)
	n, err := s.Ledger.ExpireAbandoned(ctx, cutoff)
	expiredTransactionsTotal.Add(float64(n))
	return n, err
}

func (s *CheckoutSweeper) sweep(ctx context.Context) {
	n, err := s.RunNow(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "expired", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sweep completed", "expired", n)
	}
}
