package bamboo

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BuildURL joins a base URL with path segments. A trailing slash on the last
// segment is kept, so directory pages stay directories.
func BuildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	joined := path.Join(pathSegments...)
	u.Path = path.Join(u.Path, joined)
	if n := len(pathSegments); n > 0 && strings.HasSuffix(pathSegments[n-1], "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// parseID parses a positive integer id.
func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// paramID reads the positive integer path parameter name.
func paramID(c echo.Context, name string) (int64, error) {
	id, ok := parseID(c.Param(name))
	if !ok {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// contentType picks the response type for a rendered path. Pages are HTML;
// assets go by extension.
func contentType(name string) string {
	if name == "" || strings.HasSuffix(name, "/") || path.Ext(name) == ".html" {
		return echo.MIMETextHTMLCharsetUTF8
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return echo.MIMEOctetStream
}
