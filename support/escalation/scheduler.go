// Package escalation runs per-conversation reminder loops for pending
// support requests: bounded, cancellable, and superseded atomically.
package escalation

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/m3rciful/supportbot/core/logger"
	"github.com/m3rciful/supportbot/support/session"
)

// Notifier delivers one reminder. Errors are treated as transient: the loop
// logs them and keeps going.
type Notifier func(ctx context.Context, key session.Key, language string, count uint) error

// Options configure the scheduler.
type Options struct {
	Interval     time.Duration
	MaxReminders uint
	Notify       Notifier
}

type entry struct {
	pending bool
	count   uint
	lang    string
	cancel  context.CancelFunc
	gen     uint64
}

// Scheduler owns the pending flags, reminder counts, and timer loops.
// At most one timer is live per key at any instant: Schedule installs the
// replacement under the same critical section that cancels the old one.
type Scheduler struct {
	opts Options

	mu      sync.Mutex
	gen     uint64 // monotonic across all keys, never reused
	entries map[session.Key]*entry
}

// NewScheduler creates a scheduler; loops are armed lazily by Schedule.
func NewScheduler(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if opts.MaxReminders == 0 {
		opts.MaxReminders = 3
	}
	return &Scheduler{
		opts:    opts,
		entries: make(map[session.Key]*entry),
	}
}

// Schedule marks the key pending and arms its reminder loop, atomically
// superseding any loop already armed for the key. Once the reminder count
// has reached the maximum no new loop is armed; the pending flag stays set
// until explicitly cleared.
func (s *Scheduler) Schedule(key session.Key, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.pending = true
	e.lang = language
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.count >= s.opts.MaxReminders {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	s.gen++
	e.gen = s.gen
	go s.run(ctx, key, e.gen)
}

// Cancel stops any armed loop for the key without touching the pending
// flag or count. Idempotent.
func (s *Scheduler) Cancel(key session.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// ClearPending cancels the loop and forgets the key entirely: pending flag
// dropped, reminder count reset. Idempotent.
func (s *Scheduler) ClearPending(key session.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(s.entries, key)
	}
}

// Pending reports whether the key awaits a support submission.
func (s *Scheduler) Pending(key session.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.pending
}

// Count returns the number of reminders sent for the key so far.
func (s *Scheduler) Count(key session.Key) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.count
	}
	return 0
}

// Armed reports whether a live timer loop exists for the key.
func (s *Scheduler) Armed(key session.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.cancel != nil
}

// Close cancels every armed loop. Pending bookkeeping is left in place; the
// process is shutting down anyway.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
	}
}

func (s *Scheduler) run(ctx context.Context, key session.Key, gen uint64) {
	defer s.detach(key, gen)

	timer := time.NewTimer(s.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// Cancellation may have raced the timer firing.
		if ctx.Err() != nil {
			return
		}

		count, lang, ok := s.nextReminder(key)
		if !ok {
			return
		}

		if err := s.opts.Notify(ctx, key, lang, count); err != nil {
			logger.Warn(ctx, "service.support", "reminder.send",
				slog.String("status", "fail"),
				slog.Int64("chat_id", key.ChatID),
				slog.Int64("user_id", key.UserID),
				slog.Uint64("reminders", uint64(count)),
				slog.String("err", err.Error()),
			)
		}
		if count >= s.opts.MaxReminders {
			return
		}
		timer.Reset(s.opts.Interval)
	}
}

// nextReminder claims the next reminder slot for the key. It reports false
// when the key is no longer pending or the series is exhausted.
func (s *Scheduler) nextReminder(key session.Key) (uint, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.pending || e.count >= s.opts.MaxReminders {
		return 0, "", false
	}
	e.count++
	return e.count, e.lang, true
}

// detach clears the loop's cancel handle unless a newer loop owns it.
func (s *Scheduler) detach(key session.Key, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.gen == gen {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
	}
}
