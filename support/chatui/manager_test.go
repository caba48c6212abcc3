package chatui

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/m3rciful/supportbot/support"
)

type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	sent    []string
	deleted []int

	sendErr   error
	deleteErr error
}

func (g *fakeGateway) Send(ctx context.Context, chatID int64, text string, menu support.Menu) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return 0, g.sendErr
	}
	g.nextID++
	g.sent = append(g.sent, text)
	return g.nextID, nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, chatID int64, media support.Media, caption string, menu support.Menu) (int, error) {
	return g.Send(ctx, chatID, caption, menu)
}

func (g *fakeGateway) Delete(ctx context.Context, chatID int64, messageID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGateway) EditMenu(ctx context.Context, chatID int64, messageID int, menu support.Menu) error {
	return nil
}

func (g *fakeGateway) Forward(ctx context.Context, chatID int64, text string) error {
	return nil
}

func TestSendReplacingDeletesPrevious(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.SendReplacing(ctx, 10, support.Outgoing{Text: "msg"})
	}

	if got := len(gw.sent); got != 4 {
		t.Fatalf("sent = %d, want 4", got)
	}
	// Each send after the first removes its predecessor.
	if got := len(gw.deleted); got != 3 {
		t.Fatalf("deleted = %d, want 3", got)
	}
	if id, ok := m.LastMessage(10); !ok || id != 4 {
		t.Fatalf("last message = %d/%v, want 4/true", id, ok)
	}
}

func TestSendReplacingToleratesDeleteFailure(t *testing.T) {
	gw := &fakeGateway{deleteErr: errors.New("message to delete not found")}
	m := NewManager(gw)
	ctx := context.Background()

	m.SendReplacing(ctx, 10, support.Outgoing{Text: "a"})
	m.SendReplacing(ctx, 10, support.Outgoing{Text: "b"})

	if got := len(gw.sent); got != 2 {
		t.Fatalf("sent = %d, want 2", got)
	}
	if id, ok := m.LastMessage(10); !ok || id != 2 {
		t.Fatalf("last message = %d/%v, want 2/true", id, ok)
	}
}

func TestSendReplacingSendFailureKeepsNoRef(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("blocked by user")}
	m := NewManager(gw)
	ctx := context.Background()

	m.SendReplacing(ctx, 10, support.Outgoing{Text: "a"})
	if _, ok := m.LastMessage(10); ok {
		t.Fatal("failed send must not record a message id")
	}
}

func TestSendReplacingTracksChatsSeparately(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw)
	ctx := context.Background()

	m.SendReplacing(ctx, 1, support.Outgoing{Text: "a"})
	m.SendReplacing(ctx, 2, support.Outgoing{Text: "b"})

	if got := len(gw.deleted); got != 0 {
		t.Fatalf("deleted = %d, want 0", got)
	}
}
