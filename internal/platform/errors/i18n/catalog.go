// Package i18n renders user-facing messages for error codes.
package i18n

import (
	"strings"
	"sync"
	"text/template"
)

// Code is a machine-readable error code. It mirrors errors.Code as a plain
// string so this package does not import its parent.
type Code = string

// BaseLocale is the locale every lookup falls back to.
const BaseLocale = "en-US"

// Catalog maps error codes to message templates for one locale.
type Catalog struct {
	locale    string
	sources   map[Code]string
	templates map[Code]*template.Template
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Catalog{}

	base = NewCatalog(BaseLocale, enUSMessages)
)

// NewCatalog builds a catalog for locale. Templates are parsed once here;
// a template that does not parse is rendered verbatim.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	c := &Catalog{
		locale:    locale,
		sources:   make(map[Code]string, len(messages)),
		templates: make(map[Code]*template.Template, len(messages)),
	}
	for code, text := range messages {
		c.sources[code] = text
		if tmpl, err := template.New(code).Parse(text); err == nil {
			c.templates[code] = tmpl
		}
	}
	return c
}

// RegisterCatalog makes cat the catalog served for locale. Registering
// BaseLocale replaces the built-in English messages.
func RegisterCatalog(locale string, cat *Catalog) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[locale] = cat
}

// GetCatalog returns the catalog for locale. A region-qualified locale
// such as "it-IT" falls back to its language ("it") and then to BaseLocale.
func GetCatalog(locale string) *Catalog {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = BaseLocale
	}
	candidates := []string{locale}
	if lang, _, ok := strings.Cut(strings.ReplaceAll(locale, "_", "-"), "-"); ok {
		candidates = append(candidates, lang)
	}
	candidates = append(candidates, BaseLocale)

	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, candidate := range candidates {
		if c, ok := registry[candidate]; ok {
			return c
		}
	}
	return base
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code with metadata. Codes this catalog
// does not know are looked up in the base catalog; unknown everywhere, the
// code itself is returned. Missing metadata keys render as "<no value>".
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	source, ok := c.sources[code]
	if !ok {
		if c != base {
			return base.Format(code, metadata)
		}
		return code
	}
	tmpl := c.templates[code]
	if tmpl == nil {
		return source
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, metadata); err != nil {
		return source
	}
	return sb.String()
}
