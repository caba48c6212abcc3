package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/supportbot/core/logger"
	"github.com/m3rciful/supportbot/core/telegram/sender"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by Dispatch.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

// Dispatch runs an outbound Telegram call through the async dispatcher when
// one is wired, falling back to a synchronous call when the queue is
// unavailable or saturated.
func Dispatch(ctx context.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}
