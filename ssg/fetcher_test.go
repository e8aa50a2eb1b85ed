package ssg

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub answers zipball requests with a redirect to a download URL,
// the way api.github.com does, and serves whatever each repo's handler writes.
type fakeGitHub struct {
	*httptest.Server

	mu      sync.Mutex
	repos   map[string]http.HandlerFunc
	headers []http.Header
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	gh := &fakeGitHub{repos: map[string]http.HandlerFunc{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/zipball", func(w http.ResponseWriter, r *http.Request) {
		gh.mu.Lock()
		gh.headers = append(gh.headers, r.Header.Clone())
		gh.mu.Unlock()
		http.Redirect(w, r, "/codeload/"+r.PathValue("owner")+"/"+r.PathValue("repo"), http.StatusFound)
	})
	mux.HandleFunc("GET /codeload/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		gh.mu.Lock()
		h := gh.repos[r.PathValue("repo")]
		gh.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	})
	gh.Server = httptest.NewServer(mux)
	t.Cleanup(gh.Close)
	return gh
}

func (gh *fakeGitHub) serve(repo string, h http.HandlerFunc) {
	gh.mu.Lock()
	gh.repos[repo] = h
	gh.mu.Unlock()
}

func (gh *fakeGitHub) serveZip(repo string, data []byte) {
	gh.serve(repo, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(data)
	})
}

func (gh *fakeGitHub) requests() []http.Header {
	gh.mu.Lock()
	defer gh.mu.Unlock()
	return append([]http.Header(nil), gh.headers...)
}

func (gh *fakeGitHub) source(token string) Source {
	return &GitHubSource{APIBase: gh.URL, Token: token}
}

func siteFiles(name string) map[string]string {
	files := map[string]string{}
	for k, v := range fixtureFiles {
		files[k] = v
	}
	files["index.html"] = "hello " + name
	return files
}

func TestSyncInstallsEverySite(t *testing.T) {
	gh := newFakeGitHub(t)
	store := newTestStore(t)
	sites := staticSites{
		{ID: 1, Name: "alpha", TemplateURL: "https://github.com/acme/alpha"},
		{ID: 2, Name: "beta", TemplateURL: "https://github.com/acme/beta.git"},
		{ID: 3, Name: "gamma", TemplateURL: "https://github.com/acme/gamma/tree/main"},
	}
	for _, s := range sites {
		gh.serveZip(s.Name, buildZip(t, "acme-"+s.Name+"-abc123", siteFiles(s.Name)))
	}
	// A stale file from an earlier sync must not survive the swap.
	installFixture(t, store, sites[0], map[string]string{"old.html": "old"})

	f := NewFetcher(store, sites, WithSources(gh.source("")), WithWorkers(2))
	res, err := f.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 3}, res)

	for _, s := range sites {
		assert.Equal(t, siteFiles(s.Name), readTree(t, store.Path(s)), s.Key())
		st, ok := f.Status(s.ID)
		require.True(t, ok)
		assert.True(t, st.OK)
		assert.Empty(t, st.Error)
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"1_alpha", "2_beta", "3_gamma"}, names, "no scratch directories left behind")
}

func TestSyncSkipsSitesWithoutUsableSource(t *testing.T) {
	gh := newFakeGitHub(t)
	store := newTestStore(t)
	sites := staticSites{
		{ID: 1, Name: "none"},
		{ID: 2, Name: "gitlab", TemplateURL: "https://gitlab.com/acme/site"},
		{ID: 3, Name: "paused", TemplateURL: "https://github.com/acme/paused", Config: map[string]any{"sync": false}},
		{ID: 4, Name: "live", TemplateURL: "https://github.com/acme/live"},
	}
	gh.serveZip("live", buildZip(t, "acme-live-1", siteFiles("live")))
	gh.serveZip("paused", buildZip(t, "acme-paused-1", siteFiles("paused")))

	var logs bytes.Buffer
	f := NewFetcher(store, sites, WithSources(gh.source("")), WithFetchLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	res, err := f.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 1, Failed: 0, Skipped: 3}, res)

	assert.True(t, store.Exists(sites[3]))
	assert.False(t, store.Exists(sites[2]))
	assert.False(t, store.Exists(sites[1]))

	// An unsupported host is a warning, not a failed fetch.
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "unsupported template URL")
	_, ok := f.Status(2)
	assert.False(t, ok)
	_, ok = f.Status(1)
	assert.False(t, ok)

	// Fetching it directly still reports why.
	err = f.FetchOne(context.Background(), sites[1])
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, StageURL, ferr.Stage)
	assert.Contains(t, err.Error(), "unsupported template URL")
}

func TestFetchDropsSymlinkEntriesWithWarning(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("acme-site-1/")
	require.NoError(t, err)
	w, err := zw.Create("acme-site-1/index.html")
	require.NoError(t, err)
	w.Write([]byte("hello"))
	link := &zip.FileHeader{Name: "acme-site-1/link.html", Method: zip.Store}
	link.SetMode(os.ModeSymlink | 0o777)
	w, err = zw.CreateHeader(link)
	require.NoError(t, err)
	w.Write([]byte("index.html"))
	require.NoError(t, zw.Close())

	gh := newFakeGitHub(t)
	gh.serveZip("site", buf.Bytes())
	store := newTestStore(t)
	site := Site{ID: 1, Name: "site", TemplateURL: "https://github.com/acme/site"}
	var logs bytes.Buffer
	f := NewFetcher(store, staticSites{site}, WithSources(gh.source("")), WithFetchLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	require.NoError(t, f.FetchOne(context.Background(), site))
	assert.Equal(t, map[string]string{"index.html": "hello"}, readTree(t, store.Path(site)))
	_, err = os.Lstat(store.Path(site) + "/link.html")
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, logs.String(), "dropping non-regular archive entry")
	assert.Contains(t, logs.String(), "acme-site-1/link.html")
}

func TestFetchFailureKeepsInstalledSubtree(t *testing.T) {
	corrupt := buildZip(t, "acme-site-1", map[string]string{"index.html": "CORRUPTME"})
	i := bytes.Index(corrupt, []byte("CORRUPTME"))
	require.GreaterOrEqual(t, i, 0)
	corrupt[i+8] = 'X'

	var slip bytes.Buffer
	zw := zip.NewWriter(&slip)
	for _, name := range []string{"acme-site-1/", "acme-site-1/index.html", "acme-site-1/../../evil.html"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if name != "acme-site-1/" {
			w.Write([]byte("x"))
		}
	}
	require.NoError(t, zw.Close())

	var empty bytes.Buffer
	require.NoError(t, zip.NewWriter(&empty).Close())
	wrapperOnly := buildZip(t, "acme-site-1", nil)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		stage   string
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, StageDownload},
		{"not a zip", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>definitely not a zip</html>"))
		}, StageValidate},
		{"empty archive", func(w http.ResponseWriter, r *http.Request) {
			w.Write(empty.Bytes())
		}, StageValidate},
		{"checksum mismatch", func(w http.ResponseWriter, r *http.Request) {
			w.Write(corrupt)
		}, StageValidate},
		{"wrapper only", func(w http.ResponseWriter, r *http.Request) {
			w.Write(wrapperOnly)
		}, StageExtract},
		{"path escape", func(w http.ResponseWriter, r *http.Request) {
			w.Write(slip.Bytes())
		}, StageExtract},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub(t)
			gh.serve("site", tt.handler)
			store := newTestStore(t)
			site := Site{ID: 9, Name: "site", TemplateURL: "https://github.com/acme/site"}
			installFixture(t, store, site, fixtureFiles)
			before := readTree(t, store.Path(site))

			f := NewFetcher(store, staticSites{site}, WithSources(gh.source("")))
			err := f.FetchOne(context.Background(), site)

			var ferr *FetchError
			require.True(t, errors.As(err, &ferr), "got %v", err)
			assert.Equal(t, tt.stage, ferr.Stage)
			assert.Equal(t, "9_site", ferr.Site)
			assert.Equal(t, before, readTree(t, store.Path(site)))
			_, err = os.Stat(store.Dir() + "/../evil.html")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSyncFailureIsIsolatedPerSite(t *testing.T) {
	gh := newFakeGitHub(t)
	store := newTestStore(t)
	good := Site{ID: 1, Name: "good", TemplateURL: "https://github.com/acme/good"}
	bad := Site{ID: 2, Name: "bad", TemplateURL: "https://github.com/acme/bad"}
	gh.serveZip("good", buildZip(t, "acme-good-1", siteFiles("good")))
	gh.serve("bad", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("garbage"))
	})

	f := NewFetcher(store, staticSites{bad, good}, WithSources(gh.source("")))
	res, err := f.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, store.Exists(good))
	assert.False(t, store.Exists(bad))

	statuses := f.Statuses()
	assert.True(t, statuses[1].OK)
	assert.False(t, statuses[2].OK)
}

func TestFetchSendsGitHubHeaders(t *testing.T) {
	gh := newFakeGitHub(t)
	gh.serveZip("site", buildZip(t, "acme-site-1", siteFiles("site")))
	store := newTestStore(t)
	site := Site{ID: 1, Name: "site", TemplateURL: "https://github.com/acme/site"}

	f := NewFetcher(store, staticSites{site}, WithSources(gh.source("s3cret")))
	require.NoError(t, f.FetchOne(context.Background(), site))

	reqs := gh.requests()
	require.Len(t, reqs, 1)
	h := reqs[0]
	assert.Equal(t, "application/vnd.github+json", h.Get("Accept"))
	assert.Equal(t, "2022-11-28", h.Get("X-GitHub-Api-Version"))
	assert.Equal(t, "Bearer s3cret", h.Get("Authorization"))
}

func TestFetchWithoutTokenIsUnauthenticated(t *testing.T) {
	gh := newFakeGitHub(t)
	gh.serveZip("site", buildZip(t, "acme-site-1", siteFiles("site")))
	site := Site{ID: 1, Name: "site", TemplateURL: "https://github.com/acme/site"}

	f := NewFetcher(newTestStore(t), staticSites{site}, WithSources(gh.source("")))
	require.NoError(t, f.FetchOne(context.Background(), site))
	reqs := gh.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Get("Authorization"))
}

func TestFetchRejectsUnsafeSiteName(t *testing.T) {
	gh := newFakeGitHub(t)
	site := Site{ID: 1, Name: "../escape", TemplateURL: "https://github.com/acme/site"}

	err := NewFetcher(newTestStore(t), staticSites{site}, WithSources(gh.source(""))).FetchOne(context.Background(), site)
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, StageURL, ferr.Stage)
	assert.Empty(t, gh.requests())
}

func TestGitHubSourceRepo(t *testing.T) {
	tests := []struct {
		url         string
		owner, repo string
		ok          bool
	}{
		{"https://github.com/bamboo-cms/bamboo0", "bamboo-cms", "bamboo0", true},
		{"https://github.com/bamboo-cms/bamboo0.git", "bamboo-cms", "bamboo0", true},
		{"https://github.com/bamboo-cms/bamboo0/tree/main", "bamboo-cms", "bamboo0", true},
		{"https://github.com/bamboo-cms", "", "", false},
		{"https://gitlab.com/bamboo-cms/bamboo0", "", "", false},
	}
	src := &GitHubSource{}
	for _, tt := range tests {
		owner, repo, err := src.Repo(tt.url)
		if tt.ok {
			require.NoError(t, err, tt.url)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		} else {
			assert.Error(t, err, tt.url)
		}
	}
}

func TestGitHubArchiveRequest(t *testing.T) {
	src := &GitHubSource{}
	req, err := src.ArchiveRequest(context.Background(), "https://github.com/bamboo-cms/bamboo0")
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/repos/bamboo-cms/bamboo0/zipball", req.URL.String())
	assert.Equal(t, http.MethodGet, req.Method)
}
