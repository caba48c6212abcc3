package escalation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3rciful/supportbot/support/session"
)

func testKey() session.Key {
	return session.Key{ChatID: 100, UserID: 200}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerSendsUpToMax(t *testing.T) {
	var calls atomic.Uint32
	s := NewScheduler(Options{
		Interval:     10 * time.Millisecond,
		MaxReminders: 3,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			calls.Add(1)
			return nil
		},
	})
	defer s.Close()

	key := testKey()
	s.Schedule(key, "en")

	// Five intervals pass; only three reminders may fire.
	time.Sleep(60 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Fatalf("reminders sent = %d, want 3", got)
	}
	if !s.Pending(key) {
		t.Fatal("pending flag must survive reaching the maximum")
	}
	if s.Armed(key) {
		t.Fatal("loop must stop after the maximum")
	}
}

func TestSchedulerCancelStopsLoop(t *testing.T) {
	var calls atomic.Uint32
	s := NewScheduler(Options{
		Interval:     10 * time.Millisecond,
		MaxReminders: 3,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			calls.Add(1)
			return nil
		},
	})
	defer s.Close()

	key := testKey()
	s.Schedule(key, "en")
	s.Cancel(key)

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("reminders sent after cancel = %d, want 0", got)
	}
	if !s.Pending(key) {
		t.Fatal("Cancel must not clear the pending flag")
	}
}

func TestSchedulerClearPendingResetsCount(t *testing.T) {
	s := NewScheduler(Options{
		Interval:     5 * time.Millisecond,
		MaxReminders: 3,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			return nil
		},
	})
	defer s.Close()

	key := testKey()
	s.Schedule(key, "en")
	waitFor(t, time.Second, func() bool { return s.Count(key) >= 1 })

	s.ClearPending(key)
	if s.Pending(key) {
		t.Fatal("pending must be cleared")
	}
	if got := s.Count(key); got != 0 {
		t.Fatalf("count after clear = %d, want 0", got)
	}

	// A fresh series starts from zero.
	s.Schedule(key, "en")
	waitFor(t, time.Second, func() bool { return s.Count(key) == 1 })
}

func TestSchedulerRearmAfterClearPending(t *testing.T) {
	var calls atomic.Uint32
	s := NewScheduler(Options{
		Interval:     10 * time.Millisecond,
		MaxReminders: 3,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			calls.Add(1)
			return nil
		},
	})
	defer s.Close()

	key := testKey()
	// Re-entering the support flow clears and immediately re-arms; the
	// superseded loop's teardown must not touch the fresh one.
	s.Schedule(key, "en")
	s.ClearPending(key)
	s.Schedule(key, "en")

	time.Sleep(25 * time.Millisecond)
	if !s.Armed(key) {
		t.Fatal("fresh loop must stay armed after clear-then-schedule")
	}
	if got := calls.Load(); got == 0 {
		t.Fatal("fresh loop never fired a reminder")
	}
}

func TestSchedulerScheduleSupersedesLoop(t *testing.T) {
	var calls atomic.Uint32
	s := NewScheduler(Options{
		Interval:     20 * time.Millisecond,
		MaxReminders: 1,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			calls.Add(1)
			return nil
		},
	})
	defer s.Close()

	key := testKey()
	// Rapid re-arming must never stack timers: exactly one loop survives.
	for i := 0; i < 10; i++ {
		s.Schedule(key, "en")
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("reminders sent = %d, want 1", got)
	}
}

func TestSchedulerNotifyErrorKeepsSeries(t *testing.T) {
	var calls atomic.Uint32
	s := NewScheduler(Options{
		Interval:     5 * time.Millisecond,
		MaxReminders: 2,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			calls.Add(1)
			return errors.New("telegram down")
		},
	})
	defer s.Close()

	key := testKey()
	s.Schedule(key, "en")
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 })
	if got := s.Count(key); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestSchedulerCancelDuringSend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Uint32

	s := NewScheduler(Options{
		Interval:     5 * time.Millisecond,
		MaxReminders: 3,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return nil
		},
	})
	defer s.Close()

	key := testKey()
	s.Schedule(key, "en")

	<-started
	// The first send is in flight; cancelling now lets it finish but no
	// further reminders may fire.
	s.Cancel(key)
	close(release)

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("reminders sent = %d, want 1", got)
	}
}

func TestSchedulerKeysAreIndependent(t *testing.T) {
	var mu sync.Mutex
	counts := make(map[session.Key]uint)

	s := NewScheduler(Options{
		Interval:     5 * time.Millisecond,
		MaxReminders: 1,
		Notify: func(ctx context.Context, key session.Key, lang string, count uint) error {
			mu.Lock()
			counts[key]++
			mu.Unlock()
			return nil
		},
	})
	defer s.Close()

	a := session.Key{ChatID: 1, UserID: 1}
	b := session.Key{ChatID: 2, UserID: 2}
	s.Schedule(a, "en")
	s.Schedule(b, "ru")
	s.Cancel(a)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if counts[a] != 0 {
		t.Fatalf("cancelled key received %d reminders", counts[a])
	}
	if counts[b] != 1 {
		t.Fatalf("independent key received %d reminders, want 1", counts[b])
	}
}
