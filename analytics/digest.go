package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"log/slog"

	"github.com/m3rciful/supportbot/core/logger"
)

const digestTimeout = 30 * time.Second

// Digest periodically delivers the aggregate report to the admin chat.
// A tick that starts while the previous one still runs is skipped.
type Digest struct {
	cron *cron.Cron
}

// NewDigest wires run onto the given cron expression (standard 5-field spec).
func NewDigest(spec string, run func(ctx context.Context) error) (*Digest, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))

	var busy sync.Mutex
	_, err := c.AddFunc(spec, func() {
		if !busy.TryLock() {
			logger.Warn(context.Background(), "service.analytics", "digest.skip")
			return
		}
		defer busy.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), digestTimeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			logger.Error(ctx, "service.analytics", "digest",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
				slog.Duration("duration", logger.Took(start)),
			)
			return
		}
		logger.Info(ctx, "service.analytics", "digest",
			slog.String("status", "ok"),
			slog.Duration("duration", logger.Took(start)),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: invalid digest schedule %q: %w", spec, err)
	}
	return &Digest{cron: c}, nil
}

// Start begins schedule evaluation.
func (d *Digest) Start() {
	d.cron.Start()
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (d *Digest) Stop() {
	<-d.cron.Stop().Done()
}
