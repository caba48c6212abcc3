// Package chatui enforces the single-active-message chat discipline: before
// the bot sends a new message it deletes its previous one, best-effort.
package chatui

import (
	"context"
	"sync"

	"log/slog"

	"github.com/m3rciful/supportbot/core/logger"
	"github.com/m3rciful/supportbot/support"
)

// Manager tracks the last bot message per chat and replaces it on send.
// It is not exactly-once: a failed delete simply leaves a stale message.
type Manager struct {
	gw support.Gateway

	mu   sync.Mutex
	last map[int64]int
}

// NewManager wraps a gateway.
func NewManager(gw support.Gateway) *Manager {
	return &Manager{gw: gw, last: make(map[int64]int)}
}

// SendReplacing deletes the previous bot message for the chat (failure
// logged and ignored, the ref is cleared either way), sends the new message
// and records its id unconditionally. Delivery failures never propagate.
func (m *Manager) SendReplacing(ctx context.Context, chatID int64, out support.Outgoing) {
	if prev, ok := m.takeLast(chatID); ok {
		if err := m.gw.Delete(ctx, chatID, prev); err != nil {
			logger.Warn(ctx, "service.support", "ui.delete",
				slog.String("status", "fail"),
				slog.Int64("chat_id", chatID),
				slog.String("err", err.Error()),
			)
		}
	}

	var (
		id  int
		err error
	)
	if out.Media != nil {
		id, err = m.gw.SendMedia(ctx, chatID, *out.Media, out.Text, out.Menu)
	} else {
		id, err = m.gw.Send(ctx, chatID, out.Text, out.Menu)
	}
	if err != nil {
		logger.Error(ctx, "service.support", "ui.send",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return
	}
	m.setLast(chatID, id)
}

// EditMenu swaps an existing message's keyboard in place. On failure the old
// menu stays displayed; that is logged and otherwise ignored.
func (m *Manager) EditMenu(ctx context.Context, chatID int64, messageID int, menu support.Menu) {
	if err := m.gw.EditMenu(ctx, chatID, messageID, menu); err != nil {
		logger.Warn(ctx, "service.support", "ui.edit_menu",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
	}
}

// LastMessage returns the tracked message id for a chat, if any.
func (m *Manager) LastMessage(chatID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.last[chatID]
	return id, ok
}

func (m *Manager) takeLast(chatID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.last[chatID]
	if ok {
		delete(m.last, chatID)
	}
	return id, ok
}

func (m *Manager) setLast(chatID int64, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[chatID] = id
}
