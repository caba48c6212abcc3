// Package engine implements the support conversation state machine. Every
// inbound event is interpreted against the per-key session state, emits
// exactly one analytics event, and produces exactly one outbound message
// (unrecognized button presses are acknowledged without a new message).
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/m3rciful/supportbot/analytics"
	"github.com/m3rciful/supportbot/core/logger"
	"github.com/m3rciful/supportbot/support"
	"github.com/m3rciful/supportbot/support/chatui"
	"github.com/m3rciful/supportbot/support/escalation"
	"github.com/m3rciful/supportbot/support/session"
)

const previewLimit = 200

// Incoming tags an inbound event with its origin.
type Incoming struct {
	ChatID       int64
	UserID       int64
	Username     string
	FullName     string
	LanguageHint string
	// MessageID carries the id of the message a callback was pressed on.
	MessageID int
}

// Key returns the session key of the event.
func (in Incoming) Key() session.Key {
	return session.Key{ChatID: in.ChatID, UserID: in.UserID}
}

// Options wire the engine's collaborators.
type Options struct {
	Gateway  support.Gateway
	Recorder support.Recorder
	Reporter support.Reporter
	Content  support.ContentProvider

	AdminChatID      int64
	ReminderInterval time.Duration
	MaxReminders     uint
	ReportWindowDays int
}

// Engine drives the Idle/AwaitingSupportMessage state machine.
type Engine struct {
	gw       support.Gateway
	ui       *chatui.Manager
	sessions *session.Store
	sched    *escalation.Scheduler
	rec      support.Recorder
	reporter support.Reporter
	content  support.ContentProvider

	adminChatID int64
	windowDays  int
}

// New assembles an engine and its owned scheduler and lifecycle manager.
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("engine: gateway is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("engine: recorder is required")
	}
	if opts.Content == nil {
		return nil, fmt.Errorf("engine: content provider is required")
	}
	if opts.ReportWindowDays <= 0 {
		opts.ReportWindowDays = 7
	}

	e := &Engine{
		gw:          opts.Gateway,
		ui:          chatui.NewManager(opts.Gateway),
		sessions:    session.NewStore(),
		rec:         opts.Recorder,
		reporter:    opts.Reporter,
		content:     opts.Content,
		adminChatID: opts.AdminChatID,
		windowDays:  opts.ReportWindowDays,
	}
	e.sched = escalation.NewScheduler(escalation.Options{
		Interval:     opts.ReminderInterval,
		MaxReminders: opts.MaxReminders,
		Notify:       e.remind,
	})
	return e, nil
}

// Close stops all reminder loops.
func (e *Engine) Close() {
	e.sched.Close()
}

// InProgress reports whether the key is mid-conversation.
func (e *Engine) InProgress(chatID, userID int64) bool {
	return e.sessions.InProgress(session.Key{ChatID: chatID, UserID: userID})
}

// Lifecycle exposes the message lifecycle manager, mainly for the digest job.
func (e *Engine) Lifecycle() *chatui.Manager {
	return e.ui
}

// Scheduler exposes escalation bookkeeping for tests and diagnostics.
func (e *Engine) Scheduler() *escalation.Scheduler {
	return e.sched
}

// HandleStart handles the start command: state and language selection reset,
// top-level menu shown.
func (e *Engine) HandleStart(ctx context.Context, in Incoming) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateIdle
		e.sched.ClearPending(in.Key())
		e.content.ResetSelection(in.UserID)

		e.record(ctx, in, analytics.EventStart, "", nil)
		b := e.bundle(in)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("greeting"),
			Menu: b.MainMenu,
		})
	})
	return nil
}

// OpenMainMenu returns the user to the top-level menu and clears any pending
// escalation. source distinguishes the button that led here.
func (e *Engine) OpenMainMenu(ctx context.Context, in Incoming, source string) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateIdle
		e.sched.ClearPending(in.Key())

		e.record(ctx, in, analytics.EventMainMenuOpen, "", map[string]any{"source": source})
		b := e.bundle(in)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("greeting"),
			Menu: b.MainMenu,
		})
	})
	return nil
}

// SelectLanguage stores an explicit language choice and re-renders the menu.
func (e *Engine) SelectLanguage(ctx context.Context, in Incoming, tag string) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateIdle
		e.sched.ClearPending(in.Key())
		if !e.content.Select(in.UserID, tag) {
			e.record(ctx, in, analytics.EventFallbackCallback, "", map[string]any{"language": tag})
		} else {
			e.record(ctx, in, analytics.EventLanguageSelected, tag, nil)
		}
		b := e.bundle(in)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("greeting"),
			Menu: b.MainMenu,
		})
	})
	return nil
}

// AnswerFAQ replies with the canned answer for a FAQ subject.
func (e *Engine) AnswerFAQ(ctx context.Context, in Incoming, subject string) error {
	return e.answer(ctx, in, subject, false)
}

// AnswerInstall replies with the install instructions for a platform.
func (e *Engine) AnswerInstall(ctx context.Context, in Incoming, subject string) error {
	return e.answer(ctx, in, subject, true)
}

func (e *Engine) answer(ctx context.Context, in Incoming, subject string, install bool) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateIdle
		e.sched.ClearPending(in.Key())
		b := e.bundle(in)

		answers := b.Answers
		eventType := analytics.EventFAQAnswer
		if install {
			answers = b.Install
			eventType = analytics.EventInstallAnswer
		}
		a, ok := answers[subject]
		if !ok {
			e.record(ctx, in, analytics.EventFallbackCallback, subject, nil)
			e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
				Text: b.Message("fallback"),
				Menu: b.MainMenu,
			})
			return
		}

		e.record(ctx, in, eventType, subject, nil)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text:  a.Text,
			Media: a.Media,
			Menu:  b.AnswerMenu(subject),
		})
	})
	return nil
}

// ShowInstallMenu presents the platform picker.
func (e *Engine) ShowInstallMenu(ctx context.Context, in Incoming) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateIdle
		e.sched.ClearPending(in.Key())
		e.record(ctx, in, analytics.EventInstallMenu, "", nil)
		b := e.bundle(in)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("choose_platform"),
			Menu: b.InstallMenu,
		})
	})
	return nil
}

// StartSupport enters the escalation flow: the session awaits one text
// message and the reminder loop is armed from a clean slate.
func (e *Engine) StartSupport(ctx context.Context, in Incoming) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateAwaitingSupport
		lang := e.lang(in)

		e.record(ctx, in, analytics.EventSupportStart, "", nil)
		b := e.content.Bundle(lang)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("support_prompt"),
			Menu: b.SupportMenu,
		})

		e.sched.ClearPending(in.Key())
		e.sched.Schedule(in.Key(), lang)
	})
	return nil
}

// CancelSupport leaves the escalation flow without a submission.
func (e *Engine) CancelSupport(ctx context.Context, in Incoming) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		e.cancelLocked(ctx, in, st)
	})
	return nil
}

// ResolveSupport handles the "problem solved" button from a reminder.
func (e *Engine) ResolveSupport(ctx context.Context, in Incoming) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		*st = session.StateIdle
		e.sched.ClearPending(in.Key())

		e.record(ctx, in, analytics.EventSupportResolved, "", nil)
		b := e.bundle(in)
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("support_resolved"),
			Menu: b.MainMenu,
		})
	})
	return nil
}

// HandleText routes a plain text message through the state machine.
func (e *Engine) HandleText(ctx context.Context, in Incoming, text string) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		if *st != session.StateAwaitingSupport {
			e.fallbackLocked(ctx, in, text)
			return
		}
		// The cancel word of any loaded language cancels the flow, tolerating
		// language-detection mismatches.
		if e.content.IsCancelPhrase(text) {
			e.cancelLocked(ctx, in, st)
			return
		}
		e.submitLocked(ctx, in, st, text)
	})
	return nil
}

// HandleNonText routes a non-text message. While awaiting a support message
// it prompts for text and re-arms the reminder without leaving the state;
// otherwise it is the generic fallback.
func (e *Engine) HandleNonText(ctx context.Context, in Incoming, kind string) error {
	e.sessions.Do(in.Key(), func(st *session.State) {
		b := e.bundle(in)
		if *st != session.StateAwaitingSupport {
			e.record(ctx, in, analytics.EventFallbackMessage, "", map[string]any{"content_type": kind})
			e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
				Text: b.Message("fallback"),
				Menu: b.MainMenu,
			})
			return
		}

		e.record(ctx, in, analytics.EventSupportNonText, "", map[string]any{"content_type": kind})
		e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
			Text: b.Message("support_text_required"),
			Menu: b.SupportMenu,
		})
		e.sched.Schedule(in.Key(), e.lang(in))
	})
	return nil
}

// Feedback records an answer rating, trims the message's keyboard down to
// the navigation button, and returns the toast to acknowledge with.
func (e *Engine) Feedback(ctx context.Context, in Incoming, helpful bool, subject string) (string, error) {
	eventType := analytics.EventFeedbackUnhelpful
	if helpful {
		eventType = analytics.EventFeedbackHelpful
	}
	e.record(ctx, in, eventType, subject, nil)

	b := e.bundle(in)
	if in.MessageID != 0 {
		e.ui.EditMenu(ctx, in.ChatID, in.MessageID, b.NavMenu())
	}
	return b.Message("feedback_thanks"), nil
}

// UnknownCallback records an unrecognized button press and returns the toast
// text; no new message is sent.
func (e *Engine) UnknownCallback(ctx context.Context, in Incoming, data string) (string, error) {
	e.record(ctx, in, analytics.EventFallbackCallback, "", map[string]any{"callback_data": data})
	return e.bundle(in).Message("unknown_action"), nil
}

// RejectAdminCommand answers a non-admin's use of an admin command.
func (e *Engine) RejectAdminCommand(ctx context.Context, in Incoming) error {
	b := e.bundle(in)
	e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
		Text: b.Message("admin_only"),
		Menu: b.MainMenu,
	})
	return nil
}

// HandleStats renders the windowed aggregate report. Access control happens
// upstream; the engine only serves the report.
func (e *Engine) HandleStats(ctx context.Context, in Incoming) error {
	e.record(ctx, in, analytics.EventStatsRequest, "", map[string]any{"days": e.windowDays})

	b := e.bundle(in)
	text := b.Message("stats_error")
	if e.reporter != nil {
		r, err := e.reporter.Query(ctx, e.windowDays)
		if err != nil {
			logger.Error(ctx, "service.support", "stats",
				slog.String("status", "fail"),
				slog.Int("window_days", e.windowDays),
				slog.String("err", err.Error()),
			)
		} else {
			text = e.RenderReport(r, b)
		}
	}
	e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{Text: text, Menu: b.MainMenu})
	return nil
}

// RenderReport formats a report with the bundle's localized strings.
func (e *Engine) RenderReport(r *analytics.Report, b *support.Bundle) string {
	return analytics.RenderMarkdown(r, analytics.ReportStrings{
		Title:        b.Message("stats_title"),
		TotalLine:    b.Message("stats_total"),
		UsersLine:    b.Message("stats_users"),
		ByTypeHeader: b.Message("stats_by_type"),
		FAQHeader:    b.Message("stats_top_faq"),
		InstallHead:  b.Message("stats_top_install"),
		Feedback:     b.Message("stats_feedback"),
	}, b.SubjectLabel)
}

func (e *Engine) cancelLocked(ctx context.Context, in Incoming, st *session.State) {
	*st = session.StateIdle
	e.sched.ClearPending(in.Key())

	e.record(ctx, in, analytics.EventSupportCancel, "", nil)
	b := e.bundle(in)
	e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
		Text: b.Message("support_cancelled"),
		Menu: b.MainMenu,
	})
}

func (e *Engine) submitLocked(ctx context.Context, in Incoming, st *session.State, text string) {
	*st = session.StateIdle
	e.sched.ClearPending(in.Key())

	e.record(ctx, in, analytics.EventSupportSubmit, "", map[string]any{
		"text_len":     len(text),
		"text_preview": preview(text),
	})

	if err := e.gw.Forward(ctx, e.adminChatID, supportPayload(in, text)); err != nil {
		logger.Error(ctx, "service.support", "support.forward",
			slog.String("status", "fail"),
			slog.Int64("chat_id", in.ChatID),
			slog.Int64("user_id", in.UserID),
			slog.String("err", err.Error()),
		)
	}

	b := e.bundle(in)
	e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
		Text: b.Message("support_submitted"),
		Menu: b.MainMenu,
	})
}

func (e *Engine) fallbackLocked(ctx context.Context, in Incoming, text string) {
	e.record(ctx, in, analytics.EventFallbackMessage, "", map[string]any{
		"text_len":     len(text),
		"text_preview": preview(text),
	})
	b := e.bundle(in)
	e.ui.SendReplacing(ctx, in.ChatID, support.Outgoing{
		Text: b.Message("fallback"),
		Menu: b.MainMenu,
	})
}

// remind is the scheduler's notifier: it records the reminder event and
// sends the nudge with the resolved/cancel menu.
func (e *Engine) remind(ctx context.Context, key session.Key, language string, count uint) error {
	e.rec.Record(ctx, analytics.Event{
		Timestamp: time.Now().UTC(),
		Type:      analytics.EventSupportReminder,
		ChatID:    key.ChatID,
		Payload:   map[string]any{"user_id": key.UserID, "count": count},
	})

	b := e.content.Bundle(language)
	out := support.Outgoing{
		Text: b.Message("support_reminder"),
		Menu: b.ReminderMenu,
	}
	e.ui.SendReplacing(ctx, key.ChatID, out)
	return nil
}

func (e *Engine) lang(in Incoming) string {
	return e.content.Resolve(in.UserID, in.LanguageHint)
}

func (e *Engine) bundle(in Incoming) *support.Bundle {
	return e.content.Bundle(e.lang(in))
}

func (e *Engine) record(ctx context.Context, in Incoming, eventType, subject string, payload map[string]any) {
	e.rec.Record(ctx, analytics.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Subject:   subject,
		UserID:    in.UserID,
		Username:  in.Username,
		FullName:  in.FullName,
		ChatID:    in.ChatID,
		Payload:   payload,
	})
}

func supportPayload(in Incoming, text string) string {
	username := "—"
	if in.Username != "" {
		username = "@" + in.Username
	}
	name := in.FullName
	if name == "" {
		name = "—"
	}
	return fmt.Sprintf("#SUPREQUEST #USER%d\nName: %s (%s)\nText: %s", in.UserID, name, username, text)
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= previewLimit {
		return string(runes)
	}
	return string(runes[:previewLimit-3]) + "..."
}
