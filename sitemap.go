package bamboo

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/bamboo/ssg"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// handleSitemap lists every renderable page of the site given by site_id.
func (a *App) handleSitemap(c echo.Context) error {
	id, ok := parseID(c.QueryParam("site_id"))
	if !ok {
		return c.String(http.StatusBadRequest, "site_id is required")
	}
	site, err := a.Cache.GetSite(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	pages, err := a.Engine.Pages(site)
	if errors.Is(err, ssg.ErrSiteNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return a.renderSitemap(c, site, pages)
}

func (a *App) renderSitemap(c echo.Context, site ssg.Site, pages []string) error {
	base := BuildURL(a.Config.URL, "ssg") + "/"
	query := "?site_id=" + strconv.FormatInt(site.ID, 10)
	var urls []sitemapURL
	for _, p := range pages {
		if p == notFoundPage {
			continue
		}
		// Directory indexes are listed as the directory itself.
		loc := p
		if loc == "index.html" || strings.HasSuffix(loc, "/index.html") {
			loc = strings.TrimSuffix(loc, "index.html")
		}
		urls = append(urls, sitemapURL{Loc: base + loc + query})
	}
	sitemap := sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte(xml.Header))
	return xml.NewEncoder(c.Response()).Encode(sitemap)
}
