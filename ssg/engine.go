package ssg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

// Engine renders pages and serves assets from the template store. Each site
// gets its own template set keyed by Site.Key, so two sites never resolve
// each other's templates.
type Engine struct {
	store  *TemplateStore
	logger *slog.Logger

	mu   sync.Mutex
	envs map[string]*environment
}

// environment is one site's template namespace. dir identifies the subtree
// it was opened on; a subtree swapped in by a fetch gets a fresh environment.
type environment struct {
	fsys fs.FS
	set  *pongo2.TemplateSet
	dir  os.FileInfo
}

// NewEngine creates an Engine reading from store. A nil logger discards.
func NewEngine(store *TemplateStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:  store,
		logger: logger,
		envs:   make(map[string]*environment),
	}
}

type renderOptions struct {
	packing bool
	values  map[string]any
}

// RenderOption adjusts a single Render call.
type RenderOption func(*renderOptions)

// Packing renders for a packed archive: url() leaves links undecorated.
func Packing() RenderOption {
	return func(o *renderOptions) { o.packing = true }
}

// WithValues adds extra values to the template context. `site` and `url`
// cannot be overridden.
func WithValues(values map[string]any) RenderOption {
	return func(o *renderOptions) { o.values = values }
}

// Render renders name for site. Paths under ReservedDir fail with
// ErrForbiddenPath, paths under StaticDir are returned verbatim, and
// everything else is rendered as a template. An empty name or a name ending
// in "/" means that directory's index.html.
func (e *Engine) Render(site Site, name string, opts ...RenderOption) ([]byte, error) {
	if _, err := servablePath(name); err != nil {
		return nil, err
	}
	snap, err := e.Snapshot(site)
	if err != nil {
		return nil, err
	}
	return snap.Render(name, opts...)
}

// Pages lists the site's renderable templates. See Snapshot.Pages.
func (e *Engine) Pages(site Site) ([]string, error) {
	snap, err := e.Snapshot(site)
	if err != nil {
		return nil, err
	}
	return snap.Pages()
}

// Assets lists the site's static files. See Snapshot.Assets.
func (e *Engine) Assets(site Site) ([]string, error) {
	snap, err := e.Snapshot(site)
	if err != nil {
		return nil, err
	}
	return snap.Assets()
}

// Snapshot pins the site's current subtree. Every call on the returned
// Snapshot reads that same tree, even after a fetch swaps in a new one, for
// as long as the store keeps the replaced tree around.
func (e *Engine) Snapshot(site Site) (*Snapshot, error) {
	env, err := e.env(site)
	if err != nil {
		return nil, err
	}
	return &Snapshot{engine: e, site: site, env: env}, nil
}

// Snapshot is one version of a site's subtree.
type Snapshot struct {
	engine *Engine
	site   Site
	env    *environment
}

// Render behaves like Engine.Render against the pinned tree.
func (s *Snapshot) Render(name string, opts ...RenderOption) ([]byte, error) {
	var o renderOptions
	for _, opt := range opts {
		opt(&o)
	}
	name, err := servablePath(name)
	if err != nil {
		return nil, err
	}
	if topDir(name) == StaticDir {
		return readAsset(s.env, name)
	}
	return s.engine.render(s.env, s.site, name, o)
}

// Pages lists every TemplateExt file outside ReservedDir and StaticDir, in
// lexical order.
func (s *Snapshot) Pages() ([]string, error) {
	var pages []string
	err := fs.WalkDir(s.env.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if top := topDir(p); p != "." && (top == ReservedDir || top == StaticDir) {
				return fs.SkipDir
			}
			return nil
		}
		if path.Ext(p) == TemplateExt {
			pages = append(pages, p)
		}
		return nil
	})
	return pages, err
}

// Assets lists every file under StaticDir, in lexical order.
func (s *Snapshot) Assets() ([]string, error) {
	var assets []string
	err := fs.WalkDir(s.env.fsys, StaticDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			assets = append(assets, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return assets, err
}

// Forget drops the site's cached environment.
func (e *Engine) Forget(site Site) {
	e.mu.Lock()
	delete(e.envs, site.Key())
	e.mu.Unlock()
}

// env returns the site's environment, building it on first use or when the
// subtree on disk is no longer the one it was built from. A missing subtree
// evicts the entry and reports ErrSiteNotFound.
func (e *Engine) env(site Site) (*environment, error) {
	key := site.Key()
	if !ValidName(site.Name) {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, key)
	}
	dir := e.store.Path(site)
	info, statErr := os.Stat(dir)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Replaced roots are not closed here. A render or pack that already
	// holds one keeps reading the old tree, which the store retires instead
	// of deleting; the finalizer releases the handle.
	cached := e.envs[key]
	if statErr != nil || !info.IsDir() {
		delete(e.envs, key)
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, key)
	}
	if cached != nil && os.SameFile(cached.dir, info) {
		return cached, nil
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		delete(e.envs, key)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, key)
		}
		return nil, err
	}
	// The path may have been swapped since the Stat above; record the tree
	// the root actually opened.
	if info, err = root.Stat("."); err != nil {
		root.Close()
		return nil, err
	}
	fsys := root.FS()
	set := pongo2.NewSet(key, &siteLoader{fsys: fsys})
	// ssi reads its argument straight from the OS, outside the root.
	if err := set.BanTag("ssi"); err != nil {
		root.Close()
		return nil, err
	}
	env := &environment{
		fsys: fsys,
		set:  set,
		dir:  info,
	}
	e.envs[key] = env
	e.logger.Debug("opened template environment", "site", key)
	return env, nil
}

func (e *Engine) render(env *environment, site Site, name string, o renderOptions) ([]byte, error) {
	info, err := fs.Stat(env.fsys, name)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	tpl, err := env.set.FromCache(name)
	if err != nil {
		e.logger.Error("template parse failed", "site", site.Key(), "template", name, "error", err)
		return nil, &RenderError{Name: name, Err: err}
	}
	out, err := tpl.ExecuteBytes(templateContext(site, o))
	if err != nil {
		e.logger.Error("template execution failed", "site", site.Key(), "template", name, "error", err)
		return nil, &RenderError{Name: name, Err: err}
	}
	return out, nil
}

func readAsset(env *environment, name string) ([]byte, error) {
	info, err := fs.Stat(env.fsys, name)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(env.fsys, name)
}

func templateContext(site Site, o renderOptions) pongo2.Context {
	ctx := pongo2.Context{}
	for k, v := range o.values {
		ctx[k] = v
	}
	ctx["site"] = site.templateValue()
	ctx["packing"] = o.packing
	ctx["url"] = func(raw string) *pongo2.Value {
		return pongo2.AsSafeValue(DecorateURL(raw, site.ID, o.packing))
	}
	return ctx
}

// DecorateURL appends the site_id query parameter that live serving routes
// on. Packed output is self-contained, so packing leaves raw unchanged.
func DecorateURL(raw string, siteID int64, packing bool) string {
	if packing {
		return raw
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "site_id=" + strconv.FormatInt(siteID, 10)
}

// cleanPath normalizes a request path into an fs.FS name, rejecting anything
// that could leave the subtree.
// servablePath is cleanPath plus the ReservedDir check.
func servablePath(name string) (string, error) {
	name, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	if topDir(name) == ReservedDir {
		return "", fmt.Errorf("%w: %s", ErrForbiddenPath, name)
	}
	return name, nil
}

func cleanPath(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}
	if strings.Contains(name, `\`) || !fs.ValidPath(name) {
		return "", fmt.Errorf("%w: %s", ErrForbiddenPath, name)
	}
	return name, nil
}

func topDir(name string) string {
	top, _, _ := strings.Cut(name, "/")
	return top
}

// siteLoader loads templates from one site's subtree. A name is resolved
// against the including template's directory first, then the subtree root,
// so template trees stay relocatable.
type siteLoader struct {
	fsys fs.FS
}

func (l *siteLoader) Abs(base, name string) string {
	if strings.HasPrefix(name, "/") {
		return path.Clean(strings.TrimPrefix(name, "/"))
	}
	if base != "" {
		rel := path.Join(path.Dir(base), name)
		if info, err := fs.Stat(l.fsys, rel); err == nil && !info.IsDir() {
			return rel
		}
	}
	return path.Clean(name)
}

// maxNestingFrames is the stack depth past which no further template is
// loaded. extends, include and import load their targets recursively, so a
// cycle among them would otherwise recurse until the runtime aborts.
const maxNestingFrames = 10000

func (l *siteLoader) Get(name string) (io.Reader, error) {
	var pc [1]uintptr
	if runtime.Callers(maxNestingFrames, pc[:]) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNesting, name)
	}
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenPath, name)
	}
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
