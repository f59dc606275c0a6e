// Package i18n translates user-facing strings. Locale files are embedded
// yaml, one per language.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
)

// Init loads the embedded locales and selects lang. Unknown languages fall
// back to English. Locale files that fail to load are reported in the error;
// the rest stay usable.
func Init(lang string) error {
	b, err := loadBundle(localeFS)

	mu.Lock()
	bundle = b
	localizer = i18n.NewLocalizer(b, lang, language.English.String())
	current = lang
	mu.Unlock()
	return err
}

func loadBundle(fsys fs.FS) (*i18n.Bundle, error) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.ReadDir(fsys, "locales")
	if err != nil {
		return b, fmt.Errorf("read locales: %w", err)
	}
	var errs []error
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := fs.ReadFile(fsys, "locales/"+f.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := b.ParseMessageFileBytes(data, f.Name()); err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", f.Name(), err))
		}
	}
	return b, errors.Join(errs...)
}

// Lang is the language passed to the last Init.
func Lang() string {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Available lists the languages with a locale file.
func Available() []string {
	mu.RLock()
	b := bundle
	mu.RUnlock()
	if b == nil {
		Init("en")
		return Available()
	}
	var out []string
	for _, tag := range b.LanguageTags() {
		out = append(out, tag.String())
	}
	return out
}

// T translates messageID. Extra args are applied with fmt.Sprintf. A
// missing message returns the id itself.
func T(messageID string, args ...any) string {
	mu.RLock()
	l := localizer
	mu.RUnlock()
	if l == nil {
		Init("en")
		return T(messageID, args...)
	}
	msg, err := l.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		msg = messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
