package bamboo

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/bamboo/ssg"
)

const notFoundPage = "404.html"

// handleSSG renders a site page addressed by the site_id query parameter,
// the form every url() link inside a rendered site carries.
func (a *App) handleSSG(c echo.Context) error {
	raw := c.QueryParam("site_id")
	if raw == "" {
		return c.String(http.StatusBadRequest, "site_id is required")
	}
	id, ok := parseID(raw)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid site_id")
	}
	site, err := a.Cache.GetSite(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return a.serveSite(c, site, c.Param("*"))
}

// handleSSGByID renders a site page addressed by path: /api/ssg/{id}/{file}.
func (a *App) handleSSGByID(c echo.Context) error {
	id, ok := parseID(c.Param("site_id"))
	if !ok {
		return c.String(http.StatusBadRequest, "invalid site_id")
	}
	site, err := a.Cache.GetSite(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return c.String(http.StatusNotFound, "Site not found.")
	}
	if err != nil {
		return err
	}
	return a.serveSite(c, site, c.Param("*"))
}

// serveSite renders name for site and maps engine errors onto responses.
// Missing pages fall back to the site's own 404.html when it has one.
func (a *App) serveSite(c echo.Context, site ssg.Site, name string) error {
	body, err := a.Engine.Render(site, name)
	if err == nil {
		return renderSite(c, http.StatusOK, name, body)
	}

	switch {
	case errors.Is(err, ssg.ErrForbiddenPath):
		return c.String(http.StatusForbidden, "Reserved path: "+strings.TrimPrefix(name, "/"))
	case errors.Is(err, ssg.ErrTemplateNotFound), errors.Is(err, ssg.ErrAssetNotFound):
		if page, perr := a.Engine.Render(site, notFoundPage); perr == nil {
			return renderSite(c, http.StatusNotFound, notFoundPage, page)
		}
		return c.String(http.StatusNotFound, "resource not found")
	case errors.Is(err, ssg.ErrSiteNotFound):
		return c.String(http.StatusNotFound, "site has no templates yet")
	}
	return echo.NewHTTPError(ssg.HTTPStatus(err), "render failed").SetInternal(err)
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := err.(*echo.HTTPError)
	if ok && he.Code == http.StatusNotFound && !wantsJSON(c) {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
		if !wantsJSON(c) {
			_ = RenderStatus(c, code, a.Views.ServerError())
			return
		}
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}

// wantsJSON reports whether errors for this request should stay JSON.
func wantsJSON(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}
