package support

// Answer is one canned reply: text, optional media, and the human-readable
// label used when the answer's subject shows up in reports.
type Answer struct {
	Text  string
	Media *Media
	Label string
}

// Bundle is the fully built content set for one language: message templates,
// button labels, canned answers, and the menus assembled from them.
// Bundles are immutable after construction.
type Bundle struct {
	Tag string

	Messages map[string]string
	Buttons  map[string]string

	Answers map[string]Answer // FAQ topics by subject key
	Install map[string]Answer // install instructions by platform key

	MainMenu     Menu
	InstallMenu  Menu
	SupportMenu  Menu
	ReminderMenu Menu

	subjectLabels map[string]string
}

// NewBundle finalizes a bundle, deriving the subject label index.
func NewBundle(b Bundle) *Bundle {
	b.subjectLabels = make(map[string]string, len(b.Answers)+len(b.Install))
	for key, a := range b.Answers {
		b.subjectLabels[key] = a.Label
	}
	for key, a := range b.Install {
		b.subjectLabels[key] = a.Label
	}
	return &b
}

// Message returns a template by name, or the name itself when missing so a
// content gap is visible instead of silent.
func (b *Bundle) Message(key string) string {
	if text, ok := b.Messages[key]; ok {
		return text
	}
	return key
}

// Button returns a button label by name with the same missing-key behaviour
// as Message.
func (b *Bundle) Button(key string) string {
	if label, ok := b.Buttons[key]; ok {
		return label
	}
	return key
}

// SubjectLabel maps a recorded subject key to its display label.
func (b *Bundle) SubjectLabel(subject string) string {
	if subject == "" {
		return "—"
	}
	if label, ok := b.subjectLabels[subject]; ok && label != "" {
		return label
	}
	return subject
}

// AnswerMenu builds the feedback keyboard shown under an answer.
func (b *Bundle) AnswerMenu(subject string) Menu {
	return Menu{
		{
			{Label: b.Button("helpful"), Action: ActionFeedback, Payload: PayloadFeedbackYes + "|" + subject},
			{Label: b.Button("unhelpful"), Action: ActionFeedback, Payload: PayloadFeedbackNo + "|" + subject},
		},
		{
			{Label: b.Button("main_menu"), Action: ActionMenu, Payload: PayloadMenuOpen},
		},
	}
}

// NavMenu is the reduced keyboard left in place after feedback.
func (b *Bundle) NavMenu() Menu {
	return Menu{
		{
			{Label: b.Button("main_menu"), Action: ActionMenu, Payload: PayloadMenuOpen},
		},
	}
}
