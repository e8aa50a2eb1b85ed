package bamboo

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/bamboo/ssg"
)

func (a *App) handleListSites(c echo.Context) error {
	sites, err := a.Store.ListSites(c.Request().Context())
	if err != nil {
		return err
	}
	if sites == nil {
		sites = []ssg.Site{}
	}
	return c.JSON(http.StatusOK, sites)
}

func (a *App) handleGetSite(c echo.Context) error {
	site, err := a.siteParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, site)
}

func (a *App) handleCreateSite(c echo.Context) error {
	var in SiteInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	var site ssg.Site
	if err := applySiteInput(&site, in); err != nil {
		return err
	}
	if site.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	site, err := a.Store.CreateSite(c.Request().Context(), site)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusCreated, site)
}

func (a *App) handleUpdateSite(c echo.Context) error {
	site, err := a.siteParam(c)
	if err != nil {
		return err
	}
	var in SiteInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	updated := site
	if err := applySiteInput(&updated, in); err != nil {
		return err
	}

	if updated.Name != site.Name {
		if err := a.Templates.Rename(site, updated); err != nil {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		a.Engine.Forget(site)
	}
	if err := a.Store.UpdateSite(c.Request().Context(), updated); err != nil {
		if updated.Name != site.Name {
			a.Engine.Forget(updated)
			a.restoreTemplates(c, site, updated, errors.Is(err, ErrNotFound))
		}
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, updated)
}

// restoreTemplates undoes a subtree rename whose record update failed. The
// subtree goes back to the old key, or is removed when the record is gone.
func (a *App) restoreTemplates(c echo.Context, site, renamed ssg.Site, deleted bool) {
	var err error
	if deleted {
		err = errors.Join(a.Templates.Remove(renamed), a.Templates.Remove(site))
	} else {
		err = a.Templates.Rename(renamed, site)
	}
	if err != nil {
		c.Logger().Errorf("restore templates for %s: %v", site.Key(), err)
	}
}

func (a *App) handleDeleteSite(c echo.Context) error {
	site, err := a.siteParam(c)
	if err != nil {
		return err
	}
	if err := a.Store.DeleteSite(c.Request().Context(), site.ID); err != nil {
		return err
	}
	a.Cache.Invalidate()
	a.Engine.Forget(site)
	if err := a.Templates.Remove(site); err != nil {
		c.Logger().Warnf("remove templates for %s: %v", site.Key(), err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleSyncSite fetches one site's templates now. Each site may be synced
// manually once per limiter window.
func (a *App) handleSyncSite(c echo.Context) error {
	site, err := a.siteParam(c)
	if err != nil {
		return err
	}
	if site.TemplateURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "site has no template_url")
	}
	if !a.syncLimiter.Allow("site:" + strconv.FormatInt(site.ID, 10)) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "sync already requested recently")
	}

	_ = a.Fetcher.FetchOne(context.WithoutCancel(c.Request().Context()), site)
	st, _ := a.Fetcher.Status(site.ID)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusBadGateway
	}
	return c.JSON(code, st)
}

func (a *App) handleSyncAll(c echo.Context) error {
	res, err := a.Fetcher.Sync(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (a *App) handleSiteStatus(c echo.Context) error {
	site, err := a.siteParam(c)
	if err != nil {
		return err
	}
	out := map[string]any{
		"site":      site.Key(),
		"installed": a.Templates.Exists(site),
	}
	if st, ok := a.Fetcher.Status(site.ID); ok {
		out["last_sync"] = st
	}
	return c.JSON(http.StatusOK, out)
}

// handlePackSite streams the site's static export as {id}_{name}.zip. The
// archive is built per request and removed once sent.
func (a *App) handlePackSite(c echo.Context) error {
	site, err := a.siteParam(c)
	if err != nil {
		return err
	}
	archive, err := a.Packer.Pack(c.Request().Context(), site)
	if err != nil {
		if status := ssg.HTTPStatus(err); status != http.StatusInternalServerError {
			return echo.NewHTTPError(status, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "pack failed").SetInternal(err)
	}
	defer archive.Close()
	return c.Attachment(archive.Path, site.Key()+".zip")
}

func (a *App) siteParam(c echo.Context) (ssg.Site, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return ssg.Site{}, err
	}
	site, err := a.Store.GetSite(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return ssg.Site{}, echo.NewHTTPError(http.StatusNotFound, "site not found")
	}
	return site, err
}

func applySiteInput(site *ssg.Site, in SiteInput) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if !ssg.ValidName(name) {
			return echo.NewHTTPError(http.StatusBadRequest, "name must not be empty or contain path separators")
		}
		site.Name = name
	}
	if in.TemplateURL != nil {
		site.TemplateURL = strings.TrimSpace(*in.TemplateURL)
	}
	if in.Config != nil {
		site.Config = *in.Config
	}
	return nil
}
