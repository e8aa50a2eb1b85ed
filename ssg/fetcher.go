package ssg

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultWorkers = 5
	fetchTimeout   = 30 * time.Second
	chunkSize      = 128 << 10
)

// SiteLister supplies the sites a sync pass walks over.
type SiteLister interface {
	ListSites(ctx context.Context) ([]Site, error)
}

// SyncStatus is the outcome of a site's most recent fetch.
type SyncStatus struct {
	At    time.Time `json:"at"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Fetched int `json:"fetched"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithSources replaces the default source list (GitHub, unauthenticated).
func WithSources(sources ...Source) FetcherOption {
	return func(f *Fetcher) { f.sources = sources }
}

// WithWorkers bounds how many sites are fetched concurrently.
func WithWorkers(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithFetchLogger sets the logger used for fetch progress and skips.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// Fetcher keeps each site's template subtree in sync with its remote source.
// Failures are logged per site and never abort other sites or corrupt an
// installed subtree. There are no retries: the next sync is the retry.
type Fetcher struct {
	store   *TemplateStore
	sites   SiteLister
	client  *http.Client
	sources []Source
	workers int
	logger  *slog.Logger
	group   singleflight.Group

	mu     sync.Mutex
	status map[int64]SyncStatus
}

// NewFetcher creates a Fetcher writing into store for the sites listed by sites.
func NewFetcher(store *TemplateStore, sites SiteLister, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:   store,
		sites:   sites,
		client:  &http.Client{Timeout: fetchTimeout},
		sources: []Source{&GitHubSource{}},
		workers: defaultWorkers,
		logger:  slog.New(slog.DiscardHandler),
		status:  make(map[int64]SyncStatus),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Sync fetches every site with a template URL. A Sync requested while another
// is running joins it instead of starting a second pass. The returned error
// is only set when the site list itself could not be read.
func (f *Fetcher) Sync(ctx context.Context) (SyncResult, error) {
	v, err, shared := f.group.Do("sync", func() (any, error) {
		return f.sync(ctx)
	})
	if shared {
		f.logger.Debug("joined running sync")
	}
	res, _ := v.(SyncResult)
	return res, err
}

func (f *Fetcher) sync(ctx context.Context) (SyncResult, error) {
	sites, err := f.sites.ListSites(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("ssg: list sites: %w", err)
	}
	f.logger.Info("syncing templates", "sites", len(sites))

	var fetched, failed atomic.Int64
	skipped := 0
	var g errgroup.Group
	g.SetLimit(f.workers)
	for _, site := range sites {
		if site.TemplateURL == "" || !site.SyncEnabled() {
			skipped++
			continue
		}
		if f.sourceFor(site.TemplateURL) == nil {
			f.logger.Warn("skipping site with unsupported template URL", "site", site.Key(), "url", site.TemplateURL)
			skipped++
			continue
		}
		g.Go(func() error {
			if err := f.FetchOne(ctx, site); err != nil {
				failed.Add(1)
			} else {
				fetched.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SyncResult{Fetched: int(fetched.Load()), Failed: int(failed.Load()), Skipped: skipped}
	f.logger.Info("sync finished", "fetched", res.Fetched, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

// FetchOne downloads, validates and installs one site's template bundle.
// The error, always a *FetchError, is informational: it has already been
// logged and the site's previous subtree is untouched.
func (f *Fetcher) FetchOne(ctx context.Context, site Site) error {
	err := f.fetch(ctx, site)
	f.record(site, err)
	if err != nil {
		f.logger.Warn("skipping template fetch", "site", site.Key(), "url", site.TemplateURL, "error", err)
	}
	return err
}

// Status returns the outcome of the site's last fetch.
func (f *Fetcher) Status(siteID int64) (SyncStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[siteID]
	return st, ok
}

// Statuses returns a snapshot of every recorded outcome keyed by site id.
func (f *Fetcher) Statuses() map[int64]SyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]SyncStatus, len(f.status))
	for id, st := range f.status {
		out[id] = st
	}
	return out
}

func (f *Fetcher) record(site Site, err error) {
	st := SyncStatus{At: time.Now().UTC(), OK: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	f.mu.Lock()
	f.status[site.ID] = st
	f.mu.Unlock()
}

func (f *Fetcher) sourceFor(templateURL string) Source {
	for _, src := range f.sources {
		if strings.HasPrefix(templateURL, src.Prefix()) {
			return src
		}
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, site Site) error {
	fail := func(stage string, err error) error {
		return &FetchError{Site: site.Key(), Stage: stage, Err: err}
	}

	src := f.sourceFor(site.TemplateURL)
	if src == nil {
		return fail(StageURL, fmt.Errorf("unsupported template URL %q", site.TemplateURL))
	}
	if !ValidName(site.Name) {
		return fail(StageURL, fmt.Errorf("site name %q is not path safe", site.Name))
	}
	req, err := src.ArchiveRequest(ctx, site.TemplateURL)
	if err != nil {
		return fail(StageURL, err)
	}
	f.logger.Info("fetching templates", "site", site.Key(), "url", req.URL.String())

	tmp, err := os.CreateTemp("", "bamboo-fetch-*.zip")
	if err != nil {
		return fail(StageDownload, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := f.download(req, tmp)
	if err != nil {
		return fail(StageDownload, err)
	}

	zr, err := openArchive(tmp, size)
	if err != nil {
		return fail(StageValidate, err)
	}

	scratch, err := f.store.scratch("fetch")
	if err != nil {
		return fail(StageExtract, err)
	}
	defer os.RemoveAll(scratch)

	tree, err := extract(zr, scratch, f.logger)
	if err != nil {
		return fail(StageExtract, err)
	}
	if err := f.store.Install(site, tree); err != nil {
		return fail(StageInstall, err)
	}

	f.logger.Info("stored templates", "site", site.Key(), "size", humanize.Bytes(uint64(size)), "path", f.store.Path(site))
	return nil
}

// download streams the response body into w in fixed-size chunks.
func (f *Fetcher) download(req *http.Request, w io.Writer) (int64, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	// Hide ReaderFrom/WriterTo so the chunk buffer is actually used.
	buf := make([]byte, chunkSize)
	return io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{resp.Body}, buf)
}

// openArchive parses a zip and reads every entry through, which verifies
// each entry's checksum.
func openArchive(r io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, errors.New("empty archive")
	}
	for _, zf := range zr.File {
		if err := checkEntry(zf); err != nil {
			return nil, fmt.Errorf("corrupt entry %s: %w", zf.Name, err)
		}
	}
	return zr, nil
}

func checkEntry(zf *zip.File) error {
	if zf.FileInfo().IsDir() {
		return nil
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// extract writes the contents of the archive's wrapper directory (the first
// path segment of the first entry) into dst/tree and returns that path.
// Entries that are neither files nor directories, such as symlinks, are
// dropped with a warning.
func extract(zr *zip.Reader, dst string, logger *slog.Logger) (string, error) {
	wrapper, _, _ := strings.Cut(zr.File[0].Name, "/")
	prefix := wrapper + "/"
	tree := filepath.Join(dst, "tree")
	if err := os.Mkdir(tree, 0o755); err != nil {
		return "", err
	}

	files := 0
	for _, zf := range zr.File {
		rel, ok := strings.CutPrefix(zf.Name, prefix)
		rel = strings.TrimSuffix(rel, "/")
		if !ok || rel == "" {
			continue
		}
		if !filepath.IsLocal(rel) {
			return "", fmt.Errorf("unsafe entry %q", zf.Name)
		}
		target := filepath.Join(tree, filepath.FromSlash(rel))
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			logger.Warn("dropping non-regular archive entry", "entry", zf.Name, "mode", zf.Mode().String())
			continue
		}
		if err := writeEntry(zf, target); err != nil {
			return "", fmt.Errorf("write %s: %w", rel, err)
		}
		files++
	}
	if files == 0 {
		return "", fmt.Errorf("no files under %q", prefix)
	}
	return tree, nil
}

func writeEntry(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
