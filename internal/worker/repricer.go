package worker

import (
	"context"
	"log/slog"
	"time"
)

type PriceRefresher interface {
	Reprice(ctx context.Context, day time.Time) (int, error)
}

// Repricer keeps effective prices in line with offer windows that open or
// close as days pass.
type Repricer struct {
	refresher PriceRefresher
	interval  time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewRepricer(refresher PriceRefresher, interval time.Duration, log *slog.Logger) *Repricer {
	return &Repricer{refresher: refresher, interval: interval, now: time.Now, log: log}
}

// Run reprices immediately and then on every tick until ctx is done.
func (r *Repricer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Repricer) runOnce(ctx context.Context) {
	n, err := r.refresher.Reprice(ctx, r.now())
	if err != nil {
		r.log.Error("reprice products", "error", err)
		return
	}
	if n > 0 {
		r.log.Info("products repriced", "count", n)
	}
}
