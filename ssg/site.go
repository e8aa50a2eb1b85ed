// Package ssg is the static site generator behind bamboo. It keeps a local
// template tree per site in sync with a remote source, renders pages from
// that tree with per-site isolation, and packs a site's rendered output into
// a single zip archive.
package ssg

import (
	"fmt"
	"strings"
)

const (
	// ReservedDir holds templates that may only be included or extended.
	ReservedDir = "jinja"
	// StaticDir holds assets served and packed verbatim.
	StaticDir = "static"
	// TemplateExt marks files rendered as pages.
	TemplateExt = ".html"
)

// Site is the subset of a site record the generator needs.
type Site struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	TemplateURL string         `json:"template_url,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Key names the site's subtree in the template store: "{id}_{name}".
// External consumers rely on this layout, so it must never change.
func (s Site) Key() string {
	return fmt.Sprintf("%d_%s", s.ID, s.Name)
}

// SyncEnabled reports whether scheduled syncs should fetch this site.
// A site opts out with config {"sync": false}.
func (s Site) SyncEnabled() bool {
	v, ok := s.Config["sync"]
	if !ok {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return !strings.EqualFold(b, "false") && b != "0"
	case float64:
		return b != 0
	}
	return true
}

// templateValue is what templates see as `site`.
func (s Site) templateValue() map[string]any {
	cfg := s.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		"id":           s.ID,
		"name":         s.Name,
		"template_url": s.TemplateURL,
		"config":       cfg,
	}
}

// ValidName reports whether name can be used in a store path.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`+"\x00")
}
