// Package scaffold provides the embedded starter site used by `bamboo new`.
package scaffold

import "embed"

// Templates contains the starter site tree under templates/.
// Files are Go text/templates with [[ ]] delimiters, so the {{ }} and {% %}
// tags of the site templates pass through untouched. A .tmpl suffix is
// stripped on output.
//
//go:embed all:templates
var Templates embed.FS
