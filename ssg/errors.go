package ssg

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrForbiddenPath is returned for paths under ReservedDir or paths that
	// would leave the site subtree.
	ErrForbiddenPath = errors.New("ssg: forbidden path")
	// ErrSiteNotFound is returned when the site has no subtree in the store.
	ErrSiteNotFound = errors.New("ssg: site not found")
	// ErrTemplateNotFound is returned when a page template does not exist.
	ErrTemplateNotFound = errors.New("ssg: template not found")
	// ErrAssetNotFound is returned when a static asset does not exist.
	ErrAssetNotFound = errors.New("ssg: asset not found")
	// ErrTemplateNesting is returned when templates extend or include each
	// other too deeply, which in practice means a cycle.
	ErrTemplateNesting = errors.New("ssg: templates nested too deeply (extends or include cycle)")
)

// RenderError is a fault inside stored template content, such as a syntax
// error or a missing include. It is never retried.
type RenderError struct {
	Name string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("ssg: render %s: %v", e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Fetch stages reported by FetchError.
const (
	StageURL      = "url"
	StageDownload = "download"
	StageValidate = "validate"
	StageExtract  = "extract"
	StageInstall  = "install"
)

// FetchError describes why a site's fetch was skipped. The site's existing
// subtree is left untouched whenever one is returned.
type FetchError struct {
	Site  string
	Stage string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("ssg: fetch %s: %s: %v", e.Site, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPStatus maps a render or pack error to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbiddenPath):
		return http.StatusForbidden
	case errors.Is(err, ErrSiteNotFound),
		errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrAssetNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
