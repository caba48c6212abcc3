package content

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBundle(t *testing.T, dir, tag, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, tag+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
}

func TestLoadReadsBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "en", "language: en\n"+`
language_name: English
messages:
  greeting: hi
answers:
  - key: keys
    label: Keys
    text: keys text
`)
	writeBundle(t, dir, "ru", "language: ru\n"+`
language_name: Русский
messages:
  greeting: привет
`)
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := Load(dir, "en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	langs := r.Languages()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "ru" {
		t.Fatalf("languages = %v", langs)
	}
	if got := r.Bundle("en").Message("greeting"); got != "hi" {
		t.Fatalf("greeting = %q", got)
	}
}

func TestLoadRejectsMissingDefault(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "en", `
language: en
messages:
  greeting: hi
`)
	if _, err := Load(dir, "de"); err == nil {
		t.Fatal("missing default bundle must fail")
	}
}

func TestLoadRejectsInvalidBundle(t *testing.T) {
	cases := map[string]string{
		"no_language": "messages:\n  greeting: hi\n",
		"no_messages": "language: en\n",
		"bad_answer":  "language: en\nmessages:\n  greeting: hi\nanswers:\n  - label: Keys\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeBundle(t, dir, "en", body)
			if _, err := Load(dir, "en"); err == nil {
				t.Fatal("invalid bundle must fail")
			}
		})
	}
}

func TestLoadRejectsEmptyDir(t *testing.T) {
	if _, err := Load(t.TempDir(), "en"); err == nil {
		t.Fatal("empty dir must fail")
	}
}
