package router

import (
	"time"

	tg "github.com/m3rciful/supportbot/core/telegram"
	"github.com/m3rciful/supportbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM defines the minimal interface for an FSM manager.
type FSM interface {
	InProgress(chatID, userID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text and media updates.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// mediaEndpoints lists update kinds treated as non-text messages. While a
// conversation is in progress they are routed into the FSM so the active
// state can reject or accept them.
var mediaEndpoints = []string{
	tele.OnPhoto,
	tele.OnVideo,
	tele.OnVoice,
	tele.OnVideoNote,
	tele.OnAudio,
	tele.OnDocument,
	tele.OnSticker,
	tele.OnContact,
	tele.OnLocation,
}

// TextRoutes builds handlers for text and media routing.
func TextRoutes(fsmMgr FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if fsmMgr != nil && fsmMgr.InProgress(chatID(c), senderID(c)) {
			return handleWithSummary(c, "fsm", start, "", "", func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := time.Now()
		if fsmMgr != nil && fsmMgr.InProgress(chatID(c), senderID(c)) {
			return handleWithSummary(c, "fsm_media", start, "", "", func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}
		if opts.UnknownMedia != nil {
			return handleWithSummary(c, "unexpected_media", start, "", "", func() error {
				return opts.UnknownMedia(c)
			})
		}
		logHandlerSummary(c, "unexpected_media", start, "skip", "ok", nil)
		return nil
	}

	routes := []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
	}
	wrapped := middleware.RecoverMiddleware(middleware.LoggerMiddleware(mediaHandler))
	for _, ep := range mediaEndpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: wrapped})
	}
	return routes
}

func senderID(c tele.Context) int64 {
	if u := c.Sender(); u != nil {
		return u.ID
	}
	return 0
}

func chatID(c tele.Context) int64 {
	if ch := c.Chat(); ch != nil {
		return ch.ID
	}
	return 0
}
