package analytics

import (
	"fmt"
	"strings"

	"github.com/m3rciful/supportbot/core/telegram/format"
)

// ReportStrings carries the localized fragments used to render a report.
// Lines with a single %d/%s are fmt templates.
type ReportStrings struct {
	Title        string // e.g. "Stats for the last %d days"
	TotalLine    string // e.g. "Events: %d"
	UsersLine    string // e.g. "Unique users: %d"
	ByTypeHeader string
	FAQHeader    string
	InstallHead  string
	Feedback     string // e.g. "Feedback: helpful %d, unhelpful %d"
}

// RenderMarkdown formats a report for Telegram Markdown output.
// label resolves raw subject keys to human-readable names.
func RenderMarkdown(r *Report, s ReportStrings, label func(subject string) string) string {
	if label == nil {
		label = func(subject string) string { return subject }
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", fmt.Sprintf(s.Title, r.WindowDays))
	fmt.Fprintf(&b, s.TotalLine+"\n", r.Total)
	fmt.Fprintf(&b, s.UsersLine+"\n", r.UniqueUsers)

	if len(r.ByType) > 0 {
		fmt.Fprintf(&b, "\n%s\n", s.ByTypeHeader)
		for _, tc := range r.ByType {
			fmt.Fprintf(&b, "- %s: %d\n", escapeLabel(tc.Type), tc.Count)
		}
	}
	writeSubjects(&b, s.FAQHeader, r.TopFAQ, label)
	writeSubjects(&b, s.InstallHead, r.TopInstall, label)

	fmt.Fprintf(&b, "\n"+s.Feedback+"\n", r.Helpful, r.Unhelpful)
	return strings.TrimRight(b.String(), "\n")
}

func writeSubjects(b *strings.Builder, header string, subjects []SubjectCount, label func(string) string) {
	if len(subjects) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", header)
	for _, sc := range subjects {
		fmt.Fprintf(b, "- %s: %d\n", escapeLabel(label(sc.Subject)), sc.Count)
	}
}

func escapeLabel(s string) string {
	out, err := format.EscapeMarkdown(s, format.MarkdownV1, "")
	if err != nil {
		return s
	}
	return out
}
