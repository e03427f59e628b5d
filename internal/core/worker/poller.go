package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/ledger"
	"github.com/vietddude/watchledger/internal/metrics"
)

const (
	defaultPollBatch       = 200
	defaultPollConcurrency = 8
)

// WatchLister pages through every live watch address.
type WatchLister interface {
	ListWatchesForPolling(ctx context.Context, networkID *domain.NetworkID, limit int, afterID uuid.UUID) ([]*domain.WatchAddress, error)
}

// BalanceRecorder appends observations to the ledger.
type BalanceRecorder interface {
	RecordObservation(ctx context.Context, obs domain.Observation) (*ledger.Result, error)
}

// PollerConfig configures the balance poller.
type PollerConfig struct {
	BatchSize   int
	Concurrency int
	// Networks restricts polling. Empty polls every network.
	Networks []domain.NetworkID
}

// PassStats summarizes one poller pass.
type PassStats struct {
	Watches int
	Changed int64
	Failed  int64
}

// Poller reads the current balance of every watch address from the chain
// and records it.
type Poller struct {
	cfg    PollerConfig
	lister WatchLister
	ledger BalanceRecorder
	chain  ledger.ChainReader
	logger *slog.Logger
}

// NewPoller creates a balance poller.
func NewPoller(cfg PollerConfig, lister WatchLister, rec BalanceRecorder, chain ledger.ChainReader, logger *slog.Logger) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultPollBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultPollConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{cfg: cfg, lister: lister, ledger: rec, chain: chain, logger: logger}
}

// Name implements Job.
func (p *Poller) Name() string { return "balance-poller" }

// Run implements Job.
func (p *Poller) Run(ctx context.Context) error {
	_, err := p.Poll(ctx)
	return err
}

// Poll makes one pass over all watch addresses. A failed lookup or write is
// logged and counted; only listing failures and cancellation end the pass.
func (p *Poller) Poll(ctx context.Context) (PassStats, error) {
	var stats PassStats
	var changed, failed atomic.Int64

	networks := make([]*domain.NetworkID, 0, len(p.cfg.Networks))
	for i := range p.cfg.Networks {
		networks = append(networks, &p.cfg.Networks[i])
	}
	if len(networks) == 0 {
		networks = append(networks, nil)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	var listErr error
outer:
	for _, network := range networks {
		after := uuid.Nil
		for {
			page, err := p.lister.ListWatchesForPolling(ctx, network, p.cfg.BatchSize, after)
			if err != nil {
				listErr = fmt.Errorf("list watches: %w", err)
				break outer
			}
			for _, w := range page {
				if ctx.Err() != nil {
					break outer
				}
				stats.Watches++
				g.Go(func() error {
					ok, err := p.pollOne(ctx, w)
					if err != nil {
						failed.Add(1)
						p.logger.Warn("Balance poll failed",
							"watch_id", w.ID,
							"network", w.NetworkID,
							"error", err,
						)
						return nil
					}
					if ok {
						changed.Add(1)
					}
					return nil
				})
			}
			if len(page) < p.cfg.BatchSize {
				break
			}
			after = page[len(page)-1].ID
		}
	}
	_ = g.Wait()

	stats.Changed = changed.Load()
	stats.Failed = failed.Load()

	err := listErr
	if err == nil {
		err = ctx.Err()
	}
	switch {
	case err != nil:
		metrics.PollerRuns.WithLabelValues("error").Inc()
	case stats.Failed > 0:
		metrics.PollerRuns.WithLabelValues("partial").Inc()
	default:
		metrics.PollerRuns.WithLabelValues("ok").Inc()
	}
	metrics.PollerLastRun.Set(float64(time.Now().Unix()))

	p.logger.Info("Balance poll finished",
		"watches", stats.Watches,
		"changed", stats.Changed,
		"failed", stats.Failed,
	)
	return stats, err
}

func (p *Poller) pollOne(ctx context.Context, w *domain.WatchAddress) (bool, error) {
	balance, block, err := p.chain.Balance(ctx, w.NetworkID, w.Address)
	if err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	res, err := p.ledger.RecordObservation(ctx, domain.Observation{
		WatchAddressID: w.ID,
		Balance:        balance,
		BlockNumber:    block,
	})
	if err != nil {
		return false, err
	}
	return res.Changed, nil
}
