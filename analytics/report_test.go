package analytics

import (
	"strings"
	"testing"
)

func testStrings() ReportStrings {
	return ReportStrings{
		Title:        "Stats for the last %d days",
		TotalLine:    "Events: %d",
		UsersLine:    "Unique users: %d",
		ByTypeHeader: "By type:",
		FAQHeader:    "Top FAQ:",
		InstallHead:  "Top install:",
		Feedback:     "Feedback: %d/%d",
	}
}

func TestRenderMarkdown(t *testing.T) {
	r := &Report{
		WindowDays:  7,
		Total:       42,
		UniqueUsers: 9,
		ByType: []TypeCount{
			{Type: "start", Count: 20},
			{Type: "faq_answer", Count: 15},
		},
		TopFAQ: []SubjectCount{
			{Subject: "keys", Count: 10},
			{Subject: "renew", Count: 5},
		},
		Helpful:   4,
		Unhelpful: 1,
	}

	labels := map[string]string{"keys": "Access keys", "renew": "Renew"}
	out := RenderMarkdown(r, testStrings(), func(subject string) string {
		return labels[subject]
	})

	for _, want := range []string{
		"*Stats for the last 7 days*",
		"Events: 42",
		"Unique users: 9",
		"By type:",
		"- start: 20",
		"Top FAQ:",
		"- Access keys: 10",
		"Feedback: 4/1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Top install:") {
		t.Fatal("empty section must be omitted")
	}
	if strings.HasSuffix(out, "\n") {
		t.Fatal("trailing newline must be trimmed")
	}
}

func TestRenderMarkdownEscapesLabels(t *testing.T) {
	r := &Report{
		WindowDays: 7,
		TopFAQ:     []SubjectCount{{Subject: "vpn_setup", Count: 3}},
	}
	out := RenderMarkdown(r, testStrings(), func(string) string {
		return "VPN_setup *guide*"
	})
	if strings.Contains(out, "VPN_setup *guide*") {
		t.Fatal("markdown control characters must be escaped")
	}
	if !strings.Contains(out, "VPN\\_setup") {
		t.Fatalf("expected escaped underscore in:\n%s", out)
	}
}

func TestRenderMarkdownNilLabel(t *testing.T) {
	r := &Report{
		WindowDays: 7,
		TopFAQ:     []SubjectCount{{Subject: "keys", Count: 1}},
	}
	out := RenderMarkdown(r, testStrings(), nil)
	if !strings.Contains(out, "- keys: 1") {
		t.Fatalf("raw subject expected in:\n%s", out)
	}
}
