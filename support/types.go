// Package support declares the transport-agnostic contracts of the
// conversation engine: outbound message shapes, the messaging gateway, the
// content provider, and the analytics recorder. Concrete implementations
// live in the bot, content, and analytics packages.
package support

import (
	"context"

	"github.com/m3rciful/supportbot/analytics"
)

// Media kinds accepted by the gateway.
const (
	MediaPhoto = "photo"
	MediaVideo = "video"
)

// Media references a local attachment sent alongside an answer.
type Media struct {
	Path string
	Kind string
}

// Button is one inline keyboard button. Action is the callback key routed by
// the registry, Payload its argument.
type Button struct {
	Label   string
	Action  string
	Payload string
}

// Menu is an inline keyboard: rows of buttons.
type Menu [][]Button

// Outgoing is one bot message: text (or media with caption) plus a menu.
type Outgoing struct {
	Text  string
	Media *Media
	Menu  Menu
}

// Callback action keys and payloads wired between menus and handlers.
const (
	ActionFAQ      = "faq"
	ActionInstall  = "install"
	ActionSupport  = "support"
	ActionFeedback = "feedback"
	ActionMenu     = "menu"
	ActionLang     = "lang"

	PayloadSupportStart    = "start"
	PayloadSupportCancel   = "cancel"
	PayloadSupportResolved = "resolved"
	PayloadInstallMenu     = "menu"
	PayloadInstallBack     = "back"
	PayloadMenuOpen        = "open"
	PayloadFeedbackYes     = "yes"
	PayloadFeedbackNo      = "no"
)

// Gateway abstracts the chat transport. All methods are best-effort: the
// engine logs delivery failures and carries on.
type Gateway interface {
	Send(ctx context.Context, chatID int64, text string, menu Menu) (int, error)
	SendMedia(ctx context.Context, chatID int64, media Media, caption string, menu Menu) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
	EditMenu(ctx context.Context, chatID int64, messageID int, menu Menu) error
	Forward(ctx context.Context, chatID int64, text string) error
}

// Recorder appends analytics events. Implementations must swallow failures;
// recording never blocks or fails a reply.
type Recorder interface {
	Record(ctx context.Context, e analytics.Event)
}

// Reporter computes windowed aggregate reports.
type Reporter interface {
	Query(ctx context.Context, windowDays int) (*analytics.Report, error)
}

// ContentProvider resolves users to languages and languages to bundles.
type ContentProvider interface {
	// Resolve returns the language tag for a user: an explicit selection if
	// one exists, otherwise a match of the locale hint, otherwise the default.
	Resolve(userID int64, hint string) string
	// Select stores an explicit language choice; it reports whether the tag
	// names a loaded bundle.
	Select(userID int64, tag string) bool
	// ResetSelection drops the user's explicit choice.
	ResetSelection(userID int64)
	// Bundle returns the built content bundle for a tag, falling back to the
	// default language when the tag has no loaded content.
	Bundle(tag string) *Bundle
	// Languages lists loaded language tags, sorted.
	Languages() []string
	// IsCancelPhrase matches text against the union of all loaded languages'
	// cancel triggers, case-insensitively.
	IsCancelPhrase(text string) bool
}
