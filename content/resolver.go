package content

import (
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/supportbot/support"
)

// Resolver maps users to language bundles. A language chosen through the
// picker wins over the Telegram client hint; the hint wins over the default.
type Resolver struct {
	raw        map[string]rawBundle
	defaultTag string
	names      map[string]string // tag -> language display name
	tags       []string          // sorted
	cancel     map[string]struct{}

	mu       sync.Mutex
	selected map[int64]string
	built    map[string]*support.Bundle
}

func newResolver(raw map[string]rawBundle, defaultTag string) *Resolver {
	r := &Resolver{
		raw:        raw,
		defaultTag: defaultTag,
		names:      make(map[string]string, len(raw)),
		cancel:     make(map[string]struct{}),
		selected:   make(map[int64]string),
		built:      make(map[string]*support.Bundle, len(raw)),
	}
	for tag, rb := range raw {
		r.tags = append(r.tags, tag)
		name := rb.LanguageName
		if name == "" {
			name = strings.ToUpper(tag)
		}
		r.names[tag] = name
		for _, phrase := range rb.CancelPhrases {
			r.cancel[strings.ToLower(strings.TrimSpace(phrase))] = struct{}{}
		}
	}
	sort.Strings(r.tags)
	return r
}

// Languages returns the available language tags in stable order.
func (r *Resolver) Languages() []string {
	out := make([]string, len(r.tags))
	copy(out, r.tags)
	return out
}

// Select pins userID to tag. Returns false when the tag has no bundle.
func (r *Resolver) Select(userID int64, tag string) bool {
	tag = strings.ToLower(tag)
	if _, ok := r.raw[tag]; !ok {
		return false
	}
	r.mu.Lock()
	r.selected[userID] = tag
	r.mu.Unlock()
	return true
}

// ResetSelection drops any pinned language so the client hint applies again.
func (r *Resolver) ResetSelection(userID int64) {
	r.mu.Lock()
	delete(r.selected, userID)
	r.mu.Unlock()
}

// Resolve picks the bundle tag for a user given the Telegram language hint.
func (r *Resolver) Resolve(userID int64, hint string) string {
	r.mu.Lock()
	tag, ok := r.selected[userID]
	r.mu.Unlock()
	if ok {
		return tag
	}
	hint = strings.ToLower(hint)
	if len(hint) >= 2 {
		if _, ok := r.raw[hint[:2]]; ok {
			return hint[:2]
		}
	}
	return r.defaultTag
}

// IsCancelPhrase reports whether text matches a cancel phrase in any
// language. Matching is case-insensitive and ignores surrounding space.
func (r *Resolver) IsCancelPhrase(text string) bool {
	_, ok := r.cancel[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// Bundle returns the built bundle for tag, falling back to the default
// language for unknown tags.
func (r *Resolver) Bundle(tag string) *support.Bundle {
	tag = strings.ToLower(tag)
	if _, ok := r.raw[tag]; !ok {
		tag = r.defaultTag
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.built[tag]; ok {
		return b
	}
	b := r.build(tag)
	r.built[tag] = b
	return b
}

func (r *Resolver) build(tag string) *support.Bundle {
	rb := r.raw[tag]

	answers := make(map[string]support.Answer, len(rb.Answers))
	for _, a := range rb.Answers {
		answers[a.Key] = toAnswer(a)
	}
	install := make(map[string]support.Answer, len(rb.Install))
	for _, a := range rb.Install {
		install[a.Key] = toAnswer(a)
	}

	b := support.Bundle{
		Tag:      tag,
		Messages: rb.Messages,
		Buttons:  rb.Buttons,
		Answers:  answers,
		Install:  install,
	}

	supportRow := []support.Button{{
		Label:  label(rb, "support"),
		Action: support.ActionSupport, Payload: support.PayloadSupportStart,
	}}

	// Main menu: one FAQ topic per row, then install, support, and the
	// language picker when more than one bundle is loaded.
	var main support.Menu
	for _, a := range rb.Answers {
		main = append(main, []support.Button{{
			Label: answerLabel(a), Action: support.ActionFAQ, Payload: a.Key,
		}})
	}
	main = append(main, []support.Button{{
		Label:  label(rb, "install"),
		Action: support.ActionInstall, Payload: support.PayloadInstallMenu,
	}})
	main = append(main, supportRow)
	if len(r.tags) > 1 {
		var row []support.Button
		for _, t := range r.tags {
			if t == tag {
				continue
			}
			row = append(row, support.Button{
				Label: r.names[t], Action: support.ActionLang, Payload: t,
			})
		}
		if len(row) > 0 {
			main = append(main, row)
		}
	}
	b.MainMenu = main

	// Install menu: platforms two per row, then back and support.
	var installMenu support.Menu
	var row []support.Button
	for _, a := range rb.Install {
		row = append(row, support.Button{
			Label: answerLabel(a), Action: support.ActionInstall, Payload: a.Key,
		})
		if len(row) == 2 {
			installMenu = append(installMenu, row)
			row = nil
		}
	}
	if len(row) > 0 {
		installMenu = append(installMenu, row)
	}
	installMenu = append(installMenu, []support.Button{{
		Label:  label(rb, "back"),
		Action: support.ActionInstall, Payload: support.PayloadInstallBack,
	}})
	installMenu = append(installMenu, supportRow)
	b.InstallMenu = installMenu

	cancelBtn := support.Button{
		Label:  label(rb, "cancel"),
		Action: support.ActionSupport, Payload: support.PayloadSupportCancel,
	}
	b.SupportMenu = support.Menu{{cancelBtn}}
	b.ReminderMenu = support.Menu{
		{{
			Label:  label(rb, "resolved"),
			Action: support.ActionSupport, Payload: support.PayloadSupportResolved,
		}},
		{cancelBtn},
	}

	return support.NewBundle(b)
}

func toAnswer(a rawAnswer) support.Answer {
	out := support.Answer{Text: a.Text, Label: answerLabel(a)}
	if a.Media != "" {
		kind := a.Kind
		if kind == "" {
			kind = support.MediaPhoto
		}
		out.Media = &support.Media{Path: a.Media, Kind: kind}
	}
	return out
}

func answerLabel(a rawAnswer) string {
	if a.Label != "" {
		return a.Label
	}
	return a.Key
}

func label(rb rawBundle, key string) string {
	if v, ok := rb.Buttons[key]; ok {
		return v
	}
	return key
}
