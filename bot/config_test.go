package bot

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  admin_id: 42
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Support.ReminderSeconds != 600 {
		t.Fatalf("reminder_seconds = %d, want 600", cfg.Support.ReminderSeconds)
	}
	if cfg.Support.ReminderMax != 3 {
		t.Fatalf("reminder_max = %d, want 3", cfg.Support.ReminderMax)
	}
	if cfg.Content.Dir != "content" || cfg.Content.DefaultLanguage != "en" {
		t.Fatalf("content defaults = %q/%q", cfg.Content.Dir, cfg.Content.DefaultLanguage)
	}
	if cfg.Analytics.WindowDays != 7 {
		t.Fatalf("window_days = %d, want 7", cfg.Analytics.WindowDays)
	}
	if cfg.Analytics.DigestCron != "" {
		t.Fatalf("digest_cron = %q, want empty", cfg.Analytics.DigestCron)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  admin_id: 42
support:
  reminder_seconds: 30
  reminder_max: 5
content:
  dir: ./bundles
  default_language: ru
analytics:
  window_days: 14
  digest_cron: "0 9 * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Support.ReminderSeconds != 30 || cfg.Support.ReminderMax != 5 {
		t.Fatalf("support = %+v", cfg.Support)
	}
	if cfg.Content.DefaultLanguage != "ru" {
		t.Fatalf("default_language = %q", cfg.Content.DefaultLanguage)
	}
	if cfg.Analytics.WindowDays != 14 || cfg.Analytics.DigestCron != "0 9 * * *" {
		t.Fatalf("analytics = %+v", cfg.Analytics)
	}
}

func TestLoadRequiresAdminID(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("missing admin_id must fail")
	}
}
