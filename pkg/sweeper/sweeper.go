package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"camcoord/pkg/metrics"
	"camcoord/pkg/storage"
)

// Leadership gates the purge so only one node mutates the store.
type Leadership interface {
	IsLeader() bool
}

// Flusher is the optional out-of-band shipper the sweeper drives, typically
// the audit archiver.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Config holds sweeper settings.
type Config struct {
	// Schedule is a cron expression; "@every 1m" style descriptors work.
	Schedule string

	// Retention keeps expired records around so version continuity
	// survives coordinator failover. Purge removes only records expired
	// longer than this.
	Retention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:  "@every 1m",
		Retention: time.Hour,
	}
}

// Sweeper periodically purges long-expired lease records and refreshes the
// active lease gauge. Correctness never depends on it running: expiry is
// evaluated lazily on every read and write.
type Sweeper struct {
	store      storage.LeaseStore
	leadership Leadership
	flusher    Flusher
	cfg        Config
	logger     *zap.Logger
	cron       *cron.Cron
}

// New builds a sweeper. flusher may be nil.
func New(cfg Config, store storage.LeaseStore, leadership Leadership, flusher Flusher, logger *zap.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Sweeper{
		store:      store,
		leadership: leadership,
		flusher:    flusher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start schedules the sweep. Returns an error only for a bad schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() { s.sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("sweeper started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("retention", s.cfg.Retention))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one pass immediately. Exposed for operator tooling and tests.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Followers skip the purge; the leader owns all store mutations.
	if s.leadership == nil || s.leadership.IsLeader() {
		purged, err := s.store.PurgeExpired(ctx, s.cfg.Retention)
		if err != nil {
			s.logger.Warn("purge failed", zap.Error(err))
		} else if purged > 0 {
			metrics.LeasesPurged.Add(float64(purged))
			s.logger.Info("purged expired leases", zap.Int64("count", purged))
		}
	}

	if recs, err := s.store.List(ctx); err == nil {
		metrics.ActiveLeases.Set(float64(len(recs)))
	}

	if s.flusher != nil {
		if err := s.flusher.Flush(ctx); err != nil {
			s.logger.Warn("audit flush failed", zap.Error(err))
		}
	}
}
