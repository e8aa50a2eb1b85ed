package bamboo

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, a.Views.AdminLogin(false, CsrfToken(c)))
	}
	return a.renderAdminDashboard(c, c.QueryParam("msg"))
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.loginLimiter.Record(ip)
	return Render(c, a.Views.AdminLogin(true, CsrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

// handleAdminSync runs a full sync from the dashboard and reports the counts.
func (a *App) handleAdminSync(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	res, err := a.Fetcher.Sync(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Sync finished: %d fetched, %d failed, %d skipped.", res.Fetched, res.Failed, res.Skipped)
	return c.Redirect(http.StatusSeeOther, "/admin/?msg="+url.QueryEscape(msg))
}

func (a *App) renderAdminDashboard(c echo.Context, msg string) error {
	sites, err := a.Store.ListSites(c.Request().Context())
	if err != nil {
		return err
	}
	summaries := make([]SiteSummary, len(sites))
	for i, s := range sites {
		summaries[i] = SiteSummary{Site: s, Installed: a.Templates.Exists(s)}
		if st, ok := a.Fetcher.Status(s.ID); ok {
			summaries[i].Status = &st
		}
	}
	return Render(c, a.Views.AdminDashboard(summaries, msg, CsrfToken(c)))
}
