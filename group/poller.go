package group

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Refresher runs one refresh pass. *Group satisfies it; callers that share
// a Group with other goroutines pass a locked wrapper instead.
type Refresher interface {
	Refresh(ctx context.Context, force bool) []Update
}

// PassCallback is called after every refresh pass.
type PassCallback func(updates []Update)

// Poller drives a Refresher from a ticker. The first pass is forced so
// every printer is polled at startup; later passes let the Group decide
// which printers are due.
type Poller struct {
	refresher Refresher
	interval  time.Duration
	callback  PassCallback
	logger    hclog.Logger

	stopCh chan struct{}
	done   chan struct{}
}

// NewPoller creates a poller that ticks every interval.
func NewPoller(r Refresher, interval time.Duration, cb PassCallback, logger hclog.Logger) *Poller {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Poller{
		refresher: r,
		interval:  interval,
		callback:  cb,
		logger:    logger,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins polling in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop halts the polling loop and waits for an in-flight pass to finish.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pass(ctx, true)

	for {
		select {
		case <-ticker.C:
			p.pass(ctx, false)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) pass(ctx context.Context, force bool) {
	updates := p.refresher.Refresh(ctx, force)
	if len(updates) > 0 {
		p.logger.Debug("refresh pass", "refreshed", len(updates), "forced", force)
	}
	if p.callback != nil {
		p.callback(updates)
	}
}
