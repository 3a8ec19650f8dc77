package store

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/exitshim/pkg/logging"
)

// RetentionConfig defines how long iterations are kept
type RetentionConfig struct {
	MaxAge   time.Duration // 0 disables pruning
	Interval time.Duration
}

// DefaultRetention keeps a week of iterations and checks hourly
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		MaxAge:   7 * 24 * time.Hour,
		Interval: time.Hour,
	}
}

// vacuumer is implemented by stores that can reclaim space.
type vacuumer interface {
	Vacuum() error
}

// PruneStats tracks pruning
type PruneStats struct {
	LastRun      time.Time
	LastDuration time.Duration
	LastDeleted  int64
	TotalDeleted int64
}

// Pruner deletes old iterations in the background so long campaigns do
// not grow the store without bound.
type Pruner struct {
	config RetentionConfig
	store  Store
	logger *logging.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats PruneStats
}

// NewPruner creates a pruner for s
func NewPruner(config RetentionConfig, s Store, logger *logging.Logger) *Pruner {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Pruner{config: config, store: s, logger: logger, now: time.Now}
}

// Start prunes once, then every Interval until Stop
func (p *Pruner) Start(ctx context.Context) {
	if p.config.MaxAge <= 0 {
		p.logger.Debug("retention disabled", nil)
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.Interval)
		defer ticker.Stop()

		p.PruneOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PruneOnce()
			}
		}
	}()
}

// Stop waits for the pruning loop to exit
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// PruneOnce deletes iterations older than MaxAge and returns how many
func (p *Pruner) PruneOnce() (int64, error) {
	start := p.now()
	deleted, err := p.store.DeleteBefore(start.Add(-p.config.MaxAge))
	if err != nil {
		p.logger.Error("pruning failed", logging.Fields{"error": err.Error()})
		return 0, err
	}
	if v, ok := p.store.(vacuumer); ok && deleted > 0 {
		if err := v.Vacuum(); err != nil {
			p.logger.Warn("vacuum failed", logging.Fields{"error": err.Error()})
		}
	}

	p.mu.Lock()
	p.stats.LastRun = start
	p.stats.LastDuration = p.now().Sub(start)
	p.stats.LastDeleted = deleted
	p.stats.TotalDeleted += deleted
	p.mu.Unlock()

	if deleted > 0 {
		p.logger.Info("pruned old iterations", logging.Fields{"deleted": deleted, "max_age": p.config.MaxAge.String()})
	}
	return deleted, nil
}

// Stats returns a copy of the pruning statistics
func (p *Pruner) Stats() PruneStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
