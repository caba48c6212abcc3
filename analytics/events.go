package analytics

import "time"

// Event type identifiers recorded by the bot. Reports group and rank by
// these values, so they are part of the store's contract.
const (
	EventStart             = "start"
	EventMainMenuOpen      = "main_menu_open"
	EventLanguageSelected  = "language_selected"
	EventFAQAnswer         = "faq_answer"
	EventInstallMenu       = "install_menu"
	EventInstallAnswer     = "install_answer"
	EventSupportStart      = "support_start"
	EventSupportCancel     = "support_cancel"
	EventSupportSubmit     = "support_submit"
	EventSupportNonText    = "support_non_text"
	EventSupportReminder   = "support_reminder"
	EventSupportResolved   = "support_resolved"
	EventFeedbackHelpful   = "feedback_helpful"
	EventFeedbackUnhelpful = "feedback_unhelpful"
	EventFallbackMessage   = "fallback_message"
	EventFallbackCallback  = "fallback_callback"
	EventStatsRequest      = "stats_request"
)

// Event is a single immutable interaction record. The store assigns ids;
// records are never updated or deleted.
type Event struct {
	Timestamp time.Time
	Type      string
	Subject   string
	UserID    int64
	Username  string
	FullName  string
	ChatID    int64
	Payload   map[string]any
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType string) Event {
	return Event{Timestamp: time.Now().UTC(), Type: eventType}
}
