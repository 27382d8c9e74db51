package compaction

import (
	"log/slog"
	"sync"
	"time"

	"lightcask/internal/store"
)

// Target is a store the compactor can inspect and compact.
type Target interface {
	Stats() store.Stats
	Compact() error
}

type Config struct {
	CheckInterval time.Duration
	// MinStaleRatio is the share of on-disk bytes no longer referenced by the
	// index above which a compaction runs.
	MinStaleRatio float64
	// MinStaleBytes keeps small stores from being compacted over and over.
	MinStaleBytes int64
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		MinStaleRatio: 0.5,
		MinStaleBytes: 16 * 1024 * 1024,
	}
}

type Compactor struct {
	mu      sync.Mutex
	targets []Target
	config  Config
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewCompactor(config Config, logger *slog.Logger) *Compactor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		targets: make([]Target, 0),
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

func (c *Compactor) Register(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, t)
}

func (c *Compactor) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *Compactor) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunOnce()
		case <-c.stopCh:
			return
		}
	}
}

// ShouldCompact reports whether st has crossed both thresholds.
func (c *Compactor) ShouldCompact(st store.Stats) bool {
	if st.TotalBytes <= 0 {
		return false
	}
	stale := st.StaleBytes()
	if stale < c.config.MinStaleBytes {
		return false
	}
	return float64(stale)/float64(st.TotalBytes) >= c.config.MinStaleRatio
}

// RunOnce checks every registered target and compacts those over threshold.
// It returns how many compactions ran.
func (c *Compactor) RunOnce() int {
	c.mu.Lock()
	targets := make([]Target, len(c.targets))
	copy(targets, c.targets)
	c.mu.Unlock()

	compacted := 0
	for _, t := range targets {
		st := t.Stats()
		if !c.ShouldCompact(st) {
			continue
		}

		c.logger.Info("starting compaction",
			"stale_bytes", st.StaleBytes(),
			"total_bytes", st.TotalBytes,
			"segments", st.Segments)

		if err := t.Compact(); err != nil {
			c.logger.Error("compaction failed", "error", err)
			continue
		}
		compacted++
	}
	return compacted
}

func (c *Compactor) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}
