package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/logging"
)

type CleanerOptions struct {
	Enabled  bool
	Interval time.Duration
	IdleTTL  time.Duration
	Logger   *logrus.Entry
}

func (o *CleanerOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Minute
	}
	o.Logger = logging.OrNop(o.Logger)
}

// Cleaner closes grid sessions nobody touched within IdleTTL.
type Cleaner struct {
	service *GridService
	opts    CleanerOptions
	now     func() time.Time
}

func NewCleaner(service *GridService, opts CleanerOptions) *Cleaner {
	opts.setDefaults()
	return &Cleaner{service: service, opts: opts, now: time.Now}
}

// Run blocks until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	if !c.opts.Enabled {
		return nil
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		c.cleanOnce()
	}
}

func (c *Cleaner) cleanOnce() int {
	n := c.service.ReapIdle(c.now(), c.opts.IdleTTL)
	if n > 0 {
		c.opts.Logger.WithField("closed", n).Info("reports: idle grids closed")
	}
	return n
}
