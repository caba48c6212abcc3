// Package content loads per-language YAML bundles and resolves users to
// languages. Bundle construction is pure after the initial load, so built
// bundles are memoized for the process lifetime.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/supportbot/core/logger"
)

type rawAnswer struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
	Text  string `yaml:"text"`
	Media string `yaml:"media"`
	Kind  string `yaml:"kind"`
}

type rawBundle struct {
	Language      string            `yaml:"language"`
	LanguageName  string            `yaml:"language_name"`
	Messages      map[string]string `yaml:"messages"`
	Buttons       map[string]string `yaml:"buttons"`
	CancelPhrases []string          `yaml:"cancel_phrases"`
	Answers       []rawAnswer       `yaml:"answers"`
	Install       []rawAnswer       `yaml:"install"`
}

// Load reads every *.yaml bundle in dir and returns a resolver defaulting to
// defaultTag. Missing default content is a startup error.
func Load(dir, defaultTag string) (*Resolver, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("content: read dir %s: %w", dir, err)
	}

	raw := make(map[string]rawBundle)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("content: read %s: %w", path, err)
		}
		var rb rawBundle
		if err := yaml.Unmarshal(data, &rb); err != nil {
			return nil, fmt.Errorf("content: parse %s: %w", path, err)
		}
		if err := validate(rb); err != nil {
			return nil, fmt.Errorf("content: %s: %w", path, err)
		}
		tag := strings.ToLower(rb.Language)
		if _, dup := raw[tag]; dup {
			return nil, fmt.Errorf("content: duplicate language %q in %s", tag, path)
		}
		raw[tag] = rb
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("content: no bundles found in %s", dir)
	}
	defaultTag = strings.ToLower(defaultTag)
	if _, ok := raw[defaultTag]; !ok {
		return nil, fmt.Errorf("content: default language %q has no bundle", defaultTag)
	}

	r := newResolver(raw, defaultTag)
	logger.Info(context.Background(), "service.content", "load",
		slog.Int("count", len(raw)),
		slog.String("lang", strings.Join(r.Languages(), ",")),
	)
	return r, nil
}

func validate(rb rawBundle) error {
	if strings.TrimSpace(rb.Language) == "" {
		return fmt.Errorf("missing language tag")
	}
	if len(rb.Messages) == 0 {
		return fmt.Errorf("language %q has no messages", rb.Language)
	}
	for _, a := range rb.Answers {
		if a.Key == "" || a.Text == "" {
			return fmt.Errorf("language %q: answer needs key and text", rb.Language)
		}
	}
	for _, a := range rb.Install {
		if a.Key == "" || a.Text == "" {
			return fmt.Errorf("language %q: install answer needs key and text", rb.Language)
		}
	}
	return nil
}
