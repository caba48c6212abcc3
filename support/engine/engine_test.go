package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/supportbot/analytics"
	"github.com/m3rciful/supportbot/support"
)

type sentMsg struct {
	ChatID int64
	Text   string
	Menu   support.Menu
}

type fakeGateway struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMsg
	deleted   []int
	forwarded []string
	edited    []int

	forwardErr error
}

func (g *fakeGateway) Send(ctx context.Context, chatID int64, text string, menu support.Menu) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.sent = append(g.sent, sentMsg{ChatID: chatID, Text: text, Menu: menu})
	return g.nextID, nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, chatID int64, media support.Media, caption string, menu support.Menu) (int, error) {
	return g.Send(ctx, chatID, caption, menu)
}

func (g *fakeGateway) Delete(ctx context.Context, chatID int64, messageID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGateway) EditMenu(ctx context.Context, chatID int64, messageID int, menu support.Menu) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edited = append(g.edited, messageID)
	return nil
}

func (g *fakeGateway) Forward(ctx context.Context, chatID int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.forwardErr != nil {
		return g.forwardErr
	}
	g.forwarded = append(g.forwarded, text)
	return nil
}

func (g *fakeGateway) lastSent(t *testing.T) sentMsg {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		t.Fatal("no message sent")
	}
	return g.sent[len(g.sent)-1]
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *fakeRecorder) Record(ctx context.Context, e analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *fakeRecorder) last(t *testing.T) analytics.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no event recorded")
	}
	return r.events[len(r.events)-1]
}

type fakeReporter struct {
	report *analytics.Report
	err    error
}

func (r *fakeReporter) Query(ctx context.Context, windowDays int) (*analytics.Report, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.report, nil
}

type fakeProvider struct {
	mu       sync.Mutex
	selected map[int64]string
	bundles  map[string]*support.Bundle
}

func newFakeProvider() *fakeProvider {
	p := &fakeProvider{
		selected: make(map[int64]string),
		bundles:  make(map[string]*support.Bundle),
	}
	for _, tag := range []string{"en", "ru"} {
		p.bundles[tag] = support.NewBundle(support.Bundle{
			Tag: tag,
			Messages: map[string]string{
				"greeting":              tag + ":greeting",
				"choose_platform":       tag + ":choose_platform",
				"fallback":              tag + ":fallback",
				"feedback_thanks":       tag + ":thanks",
				"unknown_action":        tag + ":unknown",
				"admin_only":            tag + ":admin_only",
				"support_prompt":        tag + ":prompt",
				"support_submitted":     tag + ":submitted",
				"support_cancelled":     tag + ":cancelled",
				"support_resolved":      tag + ":resolved",
				"support_reminder":      tag + ":reminder",
				"support_text_required": tag + ":text_required",
				"stats_error":           tag + ":stats_error",
				"stats_title":           "stats %d",
				"stats_total":           "total %d",
				"stats_users":           "users %d",
				"stats_by_type":         "by type",
				"stats_top_faq":         "top faq",
				"stats_top_install":     "top install",
				"stats_feedback":        "fb %d/%d",
			},
			Answers: map[string]support.Answer{
				"keys": {Text: tag + ":answer_keys", Label: "Keys"},
			},
			Install: map[string]support.Answer{
				"ios": {Text: tag + ":answer_ios", Label: "iOS"},
			},
			MainMenu: support.Menu{{{Label: "FAQ", Action: support.ActionFAQ, Payload: "keys"}}},
		})
	}
	return p
}

func (p *fakeProvider) Resolve(userID int64, hint string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tag, ok := p.selected[userID]; ok {
		return tag
	}
	if _, ok := p.bundles[hint]; ok {
		return hint
	}
	return "en"
}

func (p *fakeProvider) Select(userID int64, tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bundles[tag]; !ok {
		return false
	}
	p.selected[userID] = tag
	return true
}

func (p *fakeProvider) ResetSelection(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.selected, userID)
}

func (p *fakeProvider) Bundle(tag string) *support.Bundle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bundles[tag]; ok {
		return b
	}
	return p.bundles["en"]
}

func (p *fakeProvider) Languages() []string { return []string{"en", "ru"} }

func (p *fakeProvider) IsCancelPhrase(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "cancel", "отмена":
		return true
	}
	return false
}

type fixture struct {
	engine   *Engine
	gw       *fakeGateway
	rec      *fakeRecorder
	reporter *fakeReporter
	provider *fakeProvider
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		gw:       &fakeGateway{},
		rec:      &fakeRecorder{},
		reporter: &fakeReporter{report: &analytics.Report{WindowDays: 7}},
		provider: newFakeProvider(),
	}
	opts.Gateway = f.gw
	opts.Recorder = f.rec
	opts.Reporter = f.reporter
	opts.Content = f.provider
	if opts.AdminChatID == 0 {
		opts.AdminChatID = 999
	}
	if opts.ReminderInterval == 0 {
		opts.ReminderInterval = time.Hour
	}
	eng, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	f.engine = eng
	return f
}

func testIncoming() Incoming {
	return Incoming{ChatID: 10, UserID: 20, Username: "jdoe", FullName: "John Doe"}
}

func TestHandleStartResetsEverything(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	f.provider.Select(in.UserID, "ru")
	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}
	if err := f.engine.HandleStart(ctx, in); err != nil {
		t.Fatalf("handle start: %v", err)
	}

	if f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("start must reset the session to idle")
	}
	if f.engine.Scheduler().Pending(in.Key()) {
		t.Fatal("start must clear the pending escalation")
	}
	// Selection reset: the greeting comes from the hint-resolved bundle.
	if got := f.gw.lastSent(t).Text; got != "en:greeting" {
		t.Fatalf("greeting = %q, want en:greeting", got)
	}
	if got := f.rec.last(t).Type; got != analytics.EventStart {
		t.Fatalf("event = %q, want %q", got, analytics.EventStart)
	}
}

func TestStartSupportArmsEscalation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}

	if !f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("session must be awaiting a message")
	}
	if !f.engine.Scheduler().Pending(in.Key()) {
		t.Fatal("escalation must be pending")
	}
	if !f.engine.Scheduler().Armed(in.Key()) {
		t.Fatal("reminder loop must be armed")
	}
	if got := f.gw.lastSent(t).Text; got != "en:prompt" {
		t.Fatalf("prompt = %q", got)
	}
}

func TestHandleTextSubmitsSupportRequest(t *testing.T) {
	f := newFixture(t, Options{AdminChatID: 777})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}
	if err := f.engine.HandleText(ctx, in, "my keys stopped working"); err != nil {
		t.Fatalf("handle text: %v", err)
	}

	if f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("submission must return the session to idle")
	}
	if f.engine.Scheduler().Pending(in.Key()) {
		t.Fatal("submission must clear the pending escalation")
	}

	f.gw.mu.Lock()
	forwarded := append([]string(nil), f.gw.forwarded...)
	f.gw.mu.Unlock()
	if len(forwarded) != 1 {
		t.Fatalf("forwarded = %d, want 1", len(forwarded))
	}
	for _, want := range []string{"#SUPREQUEST", "#USER20", "jdoe", "my keys stopped working"} {
		if !strings.Contains(forwarded[0], want) {
			t.Fatalf("forward payload missing %q:\n%s", want, forwarded[0])
		}
	}
	if got := f.gw.lastSent(t).Text; got != "en:submitted" {
		t.Fatalf("confirmation = %q", got)
	}

	ev := f.rec.last(t)
	if ev.Type != analytics.EventSupportSubmit {
		t.Fatalf("event = %q, want %q", ev.Type, analytics.EventSupportSubmit)
	}
	if ev.Payload["text_len"] != len("my keys stopped working") {
		t.Fatalf("text_len = %v", ev.Payload["text_len"])
	}
}

func TestHandleTextForwardFailureStillConfirms(t *testing.T) {
	f := newFixture(t, Options{})
	f.gw.forwardErr = errors.New("chat not found")
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}
	if err := f.engine.HandleText(ctx, in, "help"); err != nil {
		t.Fatalf("handle text: %v", err)
	}

	if got := f.gw.lastSent(t).Text; got != "en:submitted" {
		t.Fatalf("confirmation = %q, want en:submitted", got)
	}
	if f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("forward failure must not keep the session open")
	}
}

func TestHandleTextCancelPhrase(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}
	// Russian cancel phrase must work regardless of the active language.
	if err := f.engine.HandleText(ctx, in, " Отмена "); err != nil {
		t.Fatalf("handle text: %v", err)
	}

	if f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("cancel must return the session to idle")
	}
	if f.engine.Scheduler().Pending(in.Key()) {
		t.Fatal("cancel must clear the pending escalation")
	}
	if got := f.gw.lastSent(t).Text; got != "en:cancelled" {
		t.Fatalf("message = %q", got)
	}
	if got := f.rec.last(t).Type; got != analytics.EventSupportCancel {
		t.Fatalf("event = %q, want %q", got, analytics.EventSupportCancel)
	}
}

func TestHandleTextIdleFallsBack(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.HandleText(ctx, in, "blah"); err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if got := f.gw.lastSent(t).Text; got != "en:fallback" {
		t.Fatalf("message = %q", got)
	}
	if got := f.rec.last(t).Type; got != analytics.EventFallbackMessage {
		t.Fatalf("event = %q", got)
	}
}

func TestHandleNonTextKeepsAwaiting(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}
	if err := f.engine.HandleNonText(ctx, in, "photo"); err != nil {
		t.Fatalf("handle non-text: %v", err)
	}

	if !f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("non-text must not leave the awaiting state")
	}
	if !f.engine.Scheduler().Pending(in.Key()) {
		t.Fatal("non-text must keep the escalation pending")
	}
	if got := f.gw.lastSent(t).Text; got != "en:text_required" {
		t.Fatalf("message = %q", got)
	}
	if got := f.rec.last(t).Type; got != analytics.EventSupportNonText {
		t.Fatalf("event = %q", got)
	}
}

func TestAnswerFAQ(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.AnswerFAQ(ctx, in, "keys"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	last := f.gw.lastSent(t)
	if last.Text != "en:answer_keys" {
		t.Fatalf("answer = %q", last.Text)
	}
	// Feedback row plus navigation row.
	if len(last.Menu) != 2 {
		t.Fatalf("menu rows = %d, want 2", len(last.Menu))
	}
	ev := f.rec.last(t)
	if ev.Type != analytics.EventFAQAnswer || ev.Subject != "keys" {
		t.Fatalf("event = %q/%q", ev.Type, ev.Subject)
	}
}

func TestAnswerFAQUnknownSubject(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.AnswerFAQ(ctx, in, "stale_topic"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := f.gw.lastSent(t).Text; got != "en:fallback" {
		t.Fatalf("message = %q", got)
	}
	if got := f.rec.last(t).Type; got != analytics.EventFallbackCallback {
		t.Fatalf("event = %q", got)
	}
}

func TestAnswerLeavesSupportFlow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}
	if err := f.engine.AnswerInstall(ctx, in, "ios"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("answer must return the session to idle")
	}
	if f.engine.Scheduler().Pending(in.Key()) {
		t.Fatal("answer must clear the pending escalation")
	}
}

func TestSelectLanguage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.SelectLanguage(ctx, in, "ru"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := f.gw.lastSent(t).Text; got != "ru:greeting" {
		t.Fatalf("menu text = %q, want ru:greeting", got)
	}
	ev := f.rec.last(t)
	if ev.Type != analytics.EventLanguageSelected || ev.Subject != "ru" {
		t.Fatalf("event = %q/%q", ev.Type, ev.Subject)
	}

	// The choice sticks for subsequent interactions.
	if err := f.engine.AnswerFAQ(ctx, in, "keys"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := f.gw.lastSent(t).Text; got != "ru:answer_keys" {
		t.Fatalf("answer = %q, want ru:answer_keys", got)
	}
}

func TestFeedbackTrimsKeyboard(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()
	in.MessageID = 42

	toast, err := f.engine.Feedback(ctx, in, true, "keys")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if toast != "en:thanks" {
		t.Fatalf("toast = %q", toast)
	}
	ev := f.rec.last(t)
	if ev.Type != analytics.EventFeedbackHelpful || ev.Subject != "keys" {
		t.Fatalf("event = %q/%q", ev.Type, ev.Subject)
	}
	f.gw.mu.Lock()
	edited := append([]int(nil), f.gw.edited...)
	sent := len(f.gw.sent)
	f.gw.mu.Unlock()
	if len(edited) != 1 || edited[0] != 42 {
		t.Fatalf("edited = %v, want [42]", edited)
	}
	if sent != 0 {
		t.Fatal("feedback must not send a new message")
	}
}

func TestUnknownCallbackSendsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := testIncoming()

	toast, err := f.engine.UnknownCallback(ctx, in, "ghost|btn")
	if err != nil {
		t.Fatalf("unknown callback: %v", err)
	}
	if toast != "en:unknown" {
		t.Fatalf("toast = %q", toast)
	}
	if got := f.gw.sentCount(); got != 0 {
		t.Fatalf("sent = %d, want 0", got)
	}
	if got := f.rec.last(t).Type; got != analytics.EventFallbackCallback {
		t.Fatalf("event = %q", got)
	}
}

func TestRejectAdminCommandRepliesLocalized(t *testing.T) {
	f := newFixture(t, Options{})
	in := testIncoming()
	in.LanguageHint = "ru"

	if err := f.engine.RejectAdminCommand(context.Background(), in); err != nil {
		t.Fatalf("reject: %v", err)
	}
	last := f.gw.lastSent(t)
	if last.Text != "ru:admin_only" {
		t.Fatalf("message = %q, want ru:admin_only", last.Text)
	}
	if len(last.Menu) == 0 {
		t.Fatal("rejection must carry the main menu")
	}
}

func TestHandleStatsReportsAndRecovers(t *testing.T) {
	f := newFixture(t, Options{ReportWindowDays: 7})
	f.reporter.report = &analytics.Report{
		WindowDays:  7,
		Total:       12,
		UniqueUsers: 3,
		Helpful:     2,
		Unhelpful:   1,
	}
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.HandleStats(ctx, in); err != nil {
		t.Fatalf("stats: %v", err)
	}
	text := f.gw.lastSent(t).Text
	for _, want := range []string{"stats 7", "total 12", "users 3", "fb 2/1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
	if got := f.rec.last(t).Type; got != analytics.EventStatsRequest {
		t.Fatalf("event = %q", got)
	}

	f.reporter.err = errors.New("db down")
	if err := f.engine.HandleStats(ctx, in); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := f.gw.lastSent(t).Text; got != "en:stats_error" {
		t.Fatalf("message = %q", got)
	}
}

func TestReminderFiresWhileAwaiting(t *testing.T) {
	f := newFixture(t, Options{ReminderInterval: 15 * time.Millisecond, MaxReminders: 1})
	ctx := context.Background()
	in := testIncoming()

	if err := f.engine.StartSupport(ctx, in); err != nil {
		t.Fatalf("start support: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.engine.Scheduler().Count(in.Key()) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)

	if got := f.gw.lastSent(t).Text; got != "en:reminder" {
		t.Fatalf("last message = %q, want en:reminder", got)
	}
	// The reminder replaced the prompt.
	f.gw.mu.Lock()
	deleted := len(f.gw.deleted)
	f.gw.mu.Unlock()
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if !f.engine.InProgress(in.ChatID, in.UserID) {
		t.Fatal("reminder must not change the session state")
	}
}
