package views

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// AdminLogin renders the password form. showError adds a failed-login notice.
func AdminLogin(showError bool, csrfToken string) templ.Component {
	return page("Sign in", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<main><h1>Sign in</h1>`)
		if showError {
			b.WriteString(`<p role="alert">Wrong password.</p>`)
		}
		b.WriteString(`<form method="post" action="/admin/login/">`)
		b.WriteString(csrfField(csrfToken))
		b.WriteString(`<label>Password <input type="password" name="password" autofocus required></label> <button type="submit">Sign in</button></form></main>`)
		_, err := io.WriteString(w, b.String())
		return err
	}))
}

// AdminDashboard lists the sites with their template sync state.
func AdminDashboard(title string, sites []SiteRow, message string, csrfToken string) templ.Component {
	return page(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<main><h1>%s</h1>`, templ.EscapeString(title))
		if message != "" {
			fmt.Fprintf(&b, `<p role="status">%s</p>`, templ.EscapeString(message))
		}
		fmt.Fprintf(&b, `<form method="post" action="/admin/sync/">%s<button type="submit">Sync all templates</button></form>`, csrfField(csrfToken))
		if len(sites) == 0 {
			b.WriteString(`<p>No sites yet.</p>`)
		} else {
			b.WriteString(`<table><thead><tr><th>ID</th><th>Name</th><th>Template</th><th>Status</th><th></th></tr></thead><tbody>`)
			for _, s := range sites {
				fmt.Fprintf(&b, `<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>`,
					s.ID, templ.EscapeString(s.Name), templ.EscapeString(s.TemplateURL), templ.EscapeString(StatusLabel(s)))
				if s.Installed {
					fmt.Fprintf(&b, `<a href="%s">Preview</a> <a href="/api/sites/%d/pack">Download</a>`, PreviewURL(s.ID), s.ID)
				}
				b.WriteString(`</td></tr>`)
			}
			b.WriteString(`</tbody></table>`)
		}
		fmt.Fprintf(&b, `<form method="post" action="/admin/logout/">%s<button type="submit">Sign out</button></form></main>`, csrfField(csrfToken))
		_, err := io.WriteString(w, b.String())
		return err
	}))
}
