// Package bamboo is a content backend for conference and community websites,
// built with Go, Echo, and templ. It stores site records, keeps each site's
// template tree in sync with its GitHub repository, renders sites live, and
// packs them into static archives.
//
// The static site generator itself lives in package ssg; this package wires
// it to an HTTP server, a SQLite store, and an admin dashboard.
package bamboo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/bamboo/ssg"
	"github.com/eringen/bamboo/views"
)

// ViewFuncs holds the templ components the server renders for its own pages.
// Site pages are never rendered through these; they come from each site's
// template tree.
type ViewFuncs struct {
	AdminLogin     func(showError bool, csrfToken string) templ.Component
	AdminDashboard func(sites []SiteSummary, message string, csrfToken string) templ.Component
	NotFound       func() templ.Component
	ServerError    func() templ.Component
}

// App is the central bamboo application. It wires together the store,
// cache, template pipeline, handlers, and middleware.
type App struct {
	Config Config
	Echo   *echo.Echo
	Store  *Store
	Cache  *SiteCache
	Views  ViewFuncs
	Logger *slog.Logger

	Templates *ssg.TemplateStore
	Engine    *ssg.Engine
	Fetcher   *ssg.Fetcher
	Packer    *ssg.Packer

	loginLimiter *Limiter
	syncLimiter  *Limiter
	fetcherOpts  []ssg.FetcherOption
	customRoutes []func(*App)
	media        sync.WaitGroup
	stopSync     func()
}

// New creates a new bamboo App with the given configuration.
func New(cfg Config, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
	}

	for _, opt := range opts {
		opt(a)
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	a.Views = a.defaultViews(a.Views)

	return a
}

func (a *App) defaultViews(v ViewFuncs) ViewFuncs {
	if v.AdminLogin == nil {
		v.AdminLogin = views.AdminLogin
	}
	if v.AdminDashboard == nil {
		v.AdminDashboard = func(sites []SiteSummary, message, csrfToken string) templ.Component {
			return views.AdminDashboard(a.Config.Name, siteRows(sites), message, csrfToken)
		}
	}
	if v.NotFound == nil {
		v.NotFound = views.NotFound
	}
	if v.ServerError == nil {
		v.ServerError = views.ServerError
	}
	return v
}

func siteRows(sites []SiteSummary) []views.SiteRow {
	rows := make([]views.SiteRow, len(sites))
	for i, s := range sites {
		rows[i] = views.SiteRow{
			ID:          s.Site.ID,
			Name:        s.Site.Name,
			TemplateURL: s.Site.TemplateURL,
			Installed:   s.Installed,
		}
		if s.Status != nil {
			rows[i].Synced = true
			rows[i].SyncOK = s.Status.OK
			rows[i].SyncError = s.Status.Error
			rows[i].SyncedAt = s.Status.At
		}
	}
	return rows
}

// Setup opens the database and template store, builds the SSG pipeline, and
// registers middleware and routes. Start calls it; tests call it directly to
// get a ready Echo instance without listening.
func (a *App) Setup() error {
	// Validate required config
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("bamboo: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("bamboo: SessionSecret is required")
	}

	if err := a.Open(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.Config.MediaDir, 0o755); err != nil {
		return fmt.Errorf("bamboo: create media dir: %w", err)
	}

	a.Cache = NewSiteCache(a.Store, a.Config.SiteCacheTTL)
	a.loginLimiter = NewLimiter(5, time.Minute)
	a.syncLimiter = NewLimiter(1, 30*time.Second)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

// Open opens the store and builds the template fetcher, engine and packer
// without any HTTP wiring. The CLI uses it on its own for one-shot sync and
// pack commands.
func (a *App) Open() error {
	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("bamboo: init store: %w", err)
	}
	a.Store = store

	templates, err := ssg.NewTemplateStore(a.Config.TemplateDir)
	if err != nil {
		return fmt.Errorf("bamboo: init template store: %w", err)
	}
	a.Templates = templates

	logger := a.Logger.With("component", "ssg")
	opts := []ssg.FetcherOption{
		ssg.WithWorkers(a.Config.SyncWorkers),
		ssg.WithSources(&ssg.GitHubSource{Token: a.Config.GitHubToken}),
		ssg.WithFetchLogger(logger),
	}
	a.Fetcher = ssg.NewFetcher(templates, store, append(opts, a.fetcherOpts...)...)
	a.Engine = ssg.NewEngine(templates, logger)
	a.Packer = ssg.NewPacker(a.Engine, logger)
	return nil
}

// Start initializes the app, starts the sync scheduler, and serves HTTP
// until the server is shut down.
func (a *App) Start() error {
	if err := a.Setup(); err != nil {
		return err
	}
	a.stopSync = StartSyncScheduler(a.Fetcher, a.Config.SyncInterval, a.Logger)

	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

func (a *App) setupRoutes() {
	e := a.Echo

	// Live site rendering
	e.GET("/ssg/sitemap.xml", a.handleSitemap)
	e.GET("/ssg/*", a.handleSSG)
	e.GET("/api/ssg/:site_id/*", a.handleSSGByID)

	// Uploaded media
	e.Static("/media", a.Config.MediaDir)

	// Admin pages
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.POST("/admin/sync/", a.handleAdminSync)

	// Admin API
	api := e.Group("/api", a.requireAdmin)
	api.GET("/sites", a.handleListSites)
	api.POST("/sites", a.handleCreateSite)
	api.GET("/sites/:id", a.handleGetSite)
	api.PUT("/sites/:id", a.handleUpdateSite)
	api.DELETE("/sites/:id", a.handleDeleteSite)
	api.POST("/sites/:id/sync", a.handleSyncSite)
	api.GET("/sites/:id/status", a.handleSiteStatus)
	api.GET("/sites/:id/pack", a.handlePackSite)
	api.POST("/sync", a.handleSyncAll)
	api.GET("/media", a.handleListMedia)
	api.POST("/media", a.handleUploadMedia)
	api.DELETE("/media/:id", a.handleDeleteMedia)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.stopSync != nil {
		a.stopSync()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.syncLimiter != nil {
		a.syncLimiter.Stop()
	}
	a.media.Wait()
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
