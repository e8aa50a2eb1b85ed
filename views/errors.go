package views

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func NotFound() templ.Component {
	return page("Not found", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<main><h1>Not found</h1><p>The page you asked for does not exist.</p></main>`)
		return err
	}))
}

func ServerError() templ.Component {
	return page("Server error", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<main><h1>Something went wrong</h1><p>Please try again later.</p></main>`)
		return err
	}))
}
