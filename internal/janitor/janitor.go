// Package janitor periodically drops cached room snapshots nobody has
// touched for a while.
package janitor

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Evictor drops snapshots idle for longer than ttl and reports how many.
type Evictor interface {
	EvictIdleSnapshots(ttl time.Duration) int
}

type Config struct {
	Interval    time.Duration
	SnapshotTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		SnapshotTTL: 30 * time.Minute,
	}
}

type Service struct {
	rooms  Evictor
	config Config
	cron   *cron.Cron
	log    zerolog.Logger

	mu      sync.Mutex
	started bool
}

func New(rooms Evictor, config Config, log zerolog.Logger) *Service {
	return &Service{
		rooms:  rooms,
		config: config,
		cron:   cron.New(),
		log:    log,
	}
}

// Start schedules the sweep. Calling it twice has no effect.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.cron.Schedule(cron.Every(s.config.Interval), cron.FuncJob(func() { s.Sweep() }))
	s.cron.Start()
	s.log.Info().Dur("interval", s.config.Interval).Dur("ttl", s.config.SnapshotTTL).
		Msg("🧹 Snapshot janitor started")
}

// Stop waits for a running sweep to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false

	<-s.cron.Stop().Done()
	s.log.Info().Msg("🧹 Snapshot janitor stopped")
}

// Sweep evicts idle snapshots now and returns how many were dropped.
func (s *Service) Sweep() int {
	n := s.rooms.EvictIdleSnapshots(s.config.SnapshotTTL)
	if n > 0 {
		s.log.Info().Int("evicted", n).Msg("🧹 Evicted idle room snapshots")
	}
	return n
}
