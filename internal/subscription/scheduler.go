package subscription

import (
	"context" // Context for refill sweeps

	"github.com/robfig/cron/v3"  // Cron scheduler
	"github.com/sirupsen/logrus" // Logging library
)

// DefaultRefillSchedule runs the refill sweep hourly.
const DefaultRefillSchedule = "@every 1h"

// RefillScheduler periodically drives Manager.RunRefills. The refill policy
// itself is idempotent per period, so overlapping or duplicate fires are safe.
type RefillScheduler struct {
	cron     *cron.Cron // Underlying cron scheduler
	manager  *Manager   // Refill sweep target
	schedule string     // Cron schedule expression
}

// NewRefillScheduler creates a scheduler running the given cron schedule;
// empty selects DefaultRefillSchedule.
func NewRefillScheduler(m *Manager, schedule string) *RefillScheduler {
	if schedule == "" {
		schedule = DefaultRefillSchedule
	}
	return &RefillScheduler{cron: cron.New(), manager: m, schedule: schedule}
}

// Start registers the refill job and starts the scheduler.
func (s *RefillScheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		refilled, err := s.manager.RunRefills(context.Background())
		if err != nil {
			logrus.WithField("error", err.Error()).Error("Refill sweep failed")
			return
		}
		logrus.WithField("refilled", refilled).Info("Refill sweep completed")
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logrus.WithField("schedule", s.schedule).Info("Refill scheduler started")
	return nil
}

// Stop stops the scheduler; running jobs finish.
func (s *RefillScheduler) Stop() {
	s.cron.Stop()
}
