package views

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// page wraps body in the shared admin HTML shell.
func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!doctype html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>%s</title></head><body>`,
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// csrfField renders the hidden input the CSRF middleware reads from forms.
func csrfField(token string) string {
	return `<input type="hidden" name="_csrf" value="` + templ.EscapeString(token) + `">`
}

// StatusLabel summarizes a row's last sync for display.
func StatusLabel(r SiteRow) string {
	switch {
	case r.TemplateURL == "":
		return "no template source"
	case !r.Synced && r.Installed:
		return "installed"
	case !r.Synced:
		return "pending"
	case r.SyncOK:
		return "synced " + r.SyncedAt.Format("2006-01-02 15:04:05")
	default:
		return "failed: " + r.SyncError
	}
}

// PreviewURL is where the live render of a site's index lives.
func PreviewURL(id int64) string {
	return "/ssg/?site_id=" + strconv.FormatInt(id, 10)
}
