package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/supportbot/analytics"
	"github.com/m3rciful/supportbot/content"
	"github.com/m3rciful/supportbot/core/bootstrap"
	corecmd "github.com/m3rciful/supportbot/core/cmd"
	coretelegram "github.com/m3rciful/supportbot/core/telegram"
	"github.com/m3rciful/supportbot/core/telegram/callbacks"
	"github.com/m3rciful/supportbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/supportbot/core/telegram/helpers"
	"github.com/m3rciful/supportbot/core/telegram/router"
	"github.com/m3rciful/supportbot/core/telegram/ui"
	"github.com/m3rciful/supportbot/support"
	"github.com/m3rciful/supportbot/support/engine"

	"github.com/jmoiron/sqlx"
)

// App is the assembled bot: engine, gateway, store, and the digest job.
type App struct {
	cfg      *Config
	db       *sqlx.DB
	gw       *Gateway
	store    *analytics.Store
	provider *content.Resolver
	engine   *engine.Engine
	digest   *analytics.Digest
}

// LoadConfig adapts Load to the cmd runner's config contract.
func LoadConfig(path string) (corecmd.ConfigCarrier, error) {
	return Load(path)
}

// Bootstrap initializes infrastructure and assembles the application.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("bot: unexpected config type %T", carrier)
	}

	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	provider, err := content.Load(cfg.Content.Dir, cfg.Content.DefaultLanguage)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}

	store := analytics.NewStore(res.DB)
	gw := NewGateway()

	eng, err := engine.New(engine.Options{
		Gateway:          gw,
		Recorder:         store,
		Reporter:         store,
		Content:          provider,
		AdminChatID:      cfg.Telegram.AdminID,
		ReminderInterval: time.Duration(cfg.Support.ReminderSeconds) * time.Second,
		MaxReminders:     uint(cfg.Support.ReminderMax),
		ReportWindowDays: cfg.Analytics.WindowDays,
	})
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}

	app := &App{
		cfg:      cfg,
		db:       res.DB,
		gw:       gw,
		store:    store,
		provider: provider,
		engine:   eng,
	}

	if spec := strings.TrimSpace(cfg.Analytics.DigestCron); spec != "" {
		digest, err := analytics.NewDigest(spec, app.sendDigest)
		if err != nil {
			_ = res.DB.Close()
			return nil, fmt.Errorf("bot: digest schedule: %w", err)
		}
		app.digest = digest
	}

	return app, nil
}

// TelegramRunOptions builds the runtime wiring: commands, callbacks, routers,
// and lifecycle hooks.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Description: "Open the main menu",
		Handler: func(c tele.Context) error {
			return a.engine.HandleStart(tghelpers.BuildContext(c), incomingFrom(c))
		},
	})
	reg.RegisterCommand("/stats", commands.Command{
		Description: "Usage report",
		AdminOnly:   true,
		Handler: func(c tele.Context) error {
			return a.engine.HandleStats(tghelpers.BuildContext(c), incomingFrom(c))
		},
	})

	if err := a.registerCallbacks(reg); err != nil {
		return coretelegram.RunOptions{}, err
	}

	reg.SetTextFallback(a.UnknownText())
	reg.SetCallbackNotFound(a.UnknownCallback())

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
		OnAdminReject: func(c tele.Context) error {
			return a.engine.RejectAdminCommand(tghelpers.BuildContext(c), incomingFrom(c))
		},
	})
	routes = append(routes, router.TextRoutes(fsmBridge{a.engine}, reg, router.TextOptions{
		UnknownText:  a.UnknownText(),
		UnknownMedia: a.UnknownMedia(),
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{
		DisableAutoRespond: true,
	}))

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.gw.Bind(rt.Bot)
			if a.digest != nil {
				a.digest.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			if a.digest != nil {
				a.digest.Stop()
			}
			a.engine.Close()
			return a.db.Close()
		},
	}, nil
}

// registerCallbacks binds every inline button action to its engine handler.
// Handlers acknowledge the callback themselves so feedback and unknown
// actions can attach toast text.
func (a *App) registerCallbacks(reg *coretelegram.Registry) error {
	type entry struct {
		key     string
		handler tele.HandlerFunc
	}
	entries := []entry{
		{support.ActionFAQ, a.ack(func(c tele.Context, in engine.Incoming) error {
			return a.engine.AnswerFAQ(tghelpers.BuildContext(c), in, callbacks.CallbackPayload(c))
		})},
		{support.ActionInstall, a.ack(a.handleInstall)},
		{support.ActionSupport, a.ack(a.handleSupport)},
		{support.ActionMenu, a.ack(func(c tele.Context, in engine.Incoming) error {
			return a.engine.OpenMainMenu(tghelpers.BuildContext(c), in, support.ActionMenu)
		})},
		{support.ActionLang, a.ack(func(c tele.Context, in engine.Incoming) error {
			return a.engine.SelectLanguage(tghelpers.BuildContext(c), in, callbacks.CallbackPayload(c))
		})},
		{support.ActionFeedback, a.handleFeedback},
	}
	for _, e := range entries {
		if err := reg.RegisterCallback(e.key, e.handler); err != nil {
			return err
		}
	}
	return nil
}

// ack acknowledges the callback before dispatching to the engine.
func (a *App) ack(h func(c tele.Context, in engine.Incoming) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		_ = c.Respond()
		return h(c, incomingFrom(c))
	}
}

func (a *App) handleInstall(c tele.Context, in engine.Incoming) error {
	ctx := tghelpers.BuildContext(c)
	switch payload := callbacks.CallbackPayload(c); payload {
	case support.PayloadInstallMenu:
		return a.engine.ShowInstallMenu(ctx, in)
	case support.PayloadInstallBack:
		return a.engine.OpenMainMenu(ctx, in, support.ActionInstall)
	default:
		return a.engine.AnswerInstall(ctx, in, payload)
	}
}

func (a *App) handleSupport(c tele.Context, in engine.Incoming) error {
	ctx := tghelpers.BuildContext(c)
	switch payload := callbacks.CallbackPayload(c); payload {
	case support.PayloadSupportStart:
		return a.engine.StartSupport(ctx, in)
	case support.PayloadSupportCancel:
		return a.engine.CancelSupport(ctx, in)
	case support.PayloadSupportResolved:
		return a.engine.ResolveSupport(ctx, in)
	default:
		toast, err := a.engine.UnknownCallback(ctx, in, c.Data())
		if err != nil {
			return err
		}
		return c.Respond(&tele.CallbackResponse{Text: toast})
	}
}

func (a *App) handleFeedback(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := incomingFrom(c)

	parts, err := callbacks.PayloadParts(c, "|")
	if err != nil || len(parts) == 0 {
		toast, err := a.engine.UnknownCallback(ctx, in, c.Data())
		if err != nil {
			return err
		}
		return c.Respond(&tele.CallbackResponse{Text: toast})
	}
	helpful := parts[0] == support.PayloadFeedbackYes
	subject := ""
	if len(parts) > 1 {
		subject = parts[1]
	}

	toast, err := a.engine.Feedback(ctx, in, helpful, subject)
	if err != nil {
		return err
	}
	return c.Respond(&tele.CallbackResponse{Text: toast})
}

var _ ui.FallbackProvider = (*App)(nil)

// UnknownText routes unmatched idle text into the engine's fallback flow.
func (a *App) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		return a.engine.HandleText(tghelpers.BuildContext(c), incomingFrom(c), c.Text())
	}
}

// UnknownMedia routes media received outside a support conversation into the
// engine's fallback flow.
func (a *App) UnknownMedia() tele.HandlerFunc {
	return func(c tele.Context) error {
		return a.engine.HandleNonText(tghelpers.BuildContext(c), incomingFrom(c), mediaKind(c))
	}
}

// UnknownCallback acknowledges a button the registry no longer knows.
func (a *App) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		toast, err := a.engine.UnknownCallback(tghelpers.BuildContext(c), incomingFrom(c), c.Data())
		if err != nil {
			return err
		}
		return c.Respond(&tele.CallbackResponse{Text: toast})
	}
}

// sendDigest pushes the periodic stats report to the admin chat.
func (a *App) sendDigest(ctx context.Context) error {
	r, err := a.store.Query(ctx, a.cfg.Analytics.WindowDays)
	if err != nil {
		return err
	}
	b := a.provider.Bundle(a.cfg.Content.DefaultLanguage)
	_, err = a.gw.Send(ctx, a.cfg.Telegram.AdminID, a.engine.RenderReport(r, b), nil)
	return err
}

// fsmBridge routes in-progress conversations from the message router into
// the engine.
type fsmBridge struct {
	engine *engine.Engine
}

func (f fsmBridge) InProgress(chatID, userID int64) bool {
	return f.engine.InProgress(chatID, userID)
}

func (f fsmBridge) ManagerHandler(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := incomingFrom(c)
	if text := c.Text(); text != "" {
		return f.engine.HandleText(ctx, in, text)
	}
	return f.engine.HandleNonText(ctx, in, mediaKind(c))
}

func incomingFrom(c tele.Context) engine.Incoming {
	in := engine.Incoming{}
	if ch := c.Chat(); ch != nil {
		in.ChatID = ch.ID
	}
	if u := c.Sender(); u != nil {
		in.UserID = u.ID
		in.Username = u.Username
		in.FullName = strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
		in.LanguageHint = u.LanguageCode
	}
	if cb := c.Callback(); cb != nil && cb.Message != nil {
		in.MessageID = cb.Message.ID
	}
	return in
}

func mediaKind(c tele.Context) string {
	m := c.Message()
	if m == nil {
		return "unknown"
	}
	switch {
	case m.Photo != nil:
		return "photo"
	case m.Video != nil:
		return "video"
	case m.Voice != nil:
		return "voice"
	case m.VideoNote != nil:
		return "video_note"
	case m.Audio != nil:
		return "audio"
	case m.Document != nil:
		return "document"
	case m.Sticker != nil:
		return "sticker"
	case m.Contact != nil:
		return "contact"
	case m.Location != nil:
		return "location"
	default:
		return "unknown"
	}
}
