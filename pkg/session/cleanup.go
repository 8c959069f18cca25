package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupSchedule = "0 3 * * *" // daily at 03:00
)

// Cleanup purges old archived sessions on a cron schedule.
type Cleanup struct {
	archiver  *Archiver
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	entryID   cron.EntryID
}

// CleanupConfig holds cleanup configuration.
type CleanupConfig struct {
	Archiver  *Archiver
	Retention time.Duration
	Schedule  string // cron expression
}

// NewCleanup creates a cleanup job.
func NewCleanup(cfg CleanupConfig) (*Cleanup, error) {
	if cfg.Archiver == nil {
		return nil, fmt.Errorf("archiver is required")
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCleanupSchedule
	}

	return &Cleanup{
		archiver:  cfg.Archiver,
		retention: cfg.Retention,
		schedule:  cfg.Schedule,
		cron:      cron.New(),
	}, nil
}

// Start schedules and starts the cleanup job.
func (c *Cleanup) Start() error {
	entryID, err := c.cron.AddFunc(c.schedule, func() {
		if _, err := c.Run(); err != nil {
			log.Error().Err(err).Msg("Scheduled cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	c.entryID = entryID
	c.cron.Start()

	log.Info().
		Str("schedule", c.schedule).
		Dur("retention", c.retention).
		Msg("Session cleanup scheduled")

	return nil
}

// Stop stops the cron scheduler, waiting for a running job to finish.
func (c *Cleanup) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Session cleanup stopped")
}

// Run purges archived messages past the retention period.
func (c *Cleanup) Run() (int64, error) {
	cutoff := time.Now().Add(-c.retention)
	return c.archiver.PurgeOlderThan(cutoff)
}
