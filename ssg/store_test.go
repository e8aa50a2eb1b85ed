package ssg

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteKey(t *testing.T) {
	assert.Equal(t, "12_conf", Site{ID: 12, Name: "conf"}.Key())
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"conf", "PyCon China 2024", "a.b"} {
		assert.True(t, ValidName(name), name)
	}
	for _, name := range []string{"", " ", ".", "..", "a/b", `a\b`, "a\x00b"} {
		assert.False(t, ValidName(name), "%q", name)
	}
}

func TestSyncEnabled(t *testing.T) {
	tests := []struct {
		cfg  map[string]any
		want bool
	}{
		{nil, true},
		{map[string]any{"sync": true}, true},
		{map[string]any{"sync": false}, false},
		{map[string]any{"sync": "false"}, false},
		{map[string]any{"sync": float64(0)}, false},
		{map[string]any{"theme": "dark"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Site{Config: tt.cfg}.SyncEnabled(), "%v", tt.cfg)
	}
}

func TestInstallReplacesWholeSubtree(t *testing.T) {
	store := newTestStore(t)
	site := Site{ID: 1, Name: "conf"}
	assert.False(t, store.Exists(site))

	installFixture(t, store, site, map[string]string{"index.html": "v1", "old.html": "gone soon"})
	assert.True(t, store.Exists(site))
	assert.Equal(t, map[string]string{"index.html": "v1", "old.html": "gone soon"}, readTree(t, store.Path(site)))

	installFixture(t, store, site, map[string]string{"index.html": "v2", "static/a.css": "a"})
	assert.Equal(t, map[string]string{"index.html": "v2", "static/a.css": "a"}, readTree(t, store.Path(site)))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	assert.Equal(t, []string{"1_conf"}, names)
}

func TestInstallRetiresPreviousSubtree(t *testing.T) {
	store := newTestStore(t)
	clock := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return clock }
	site := Site{ID: 1, Name: "conf"}

	installFixture(t, store, site, map[string]string{"index.html": "v1"})
	installFixture(t, store, site, map[string]string{"index.html": "v2"})

	held, err := filepath.Glob(filepath.Join(store.Dir(), retiredPrefix+"*", "tree"))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, map[string]string{"index.html": "v1"}, readTree(t, held[0]))

	n, err := store.Reap()
	require.NoError(t, err)
	assert.Zero(t, n, "still within the grace period")

	clock = clock.Add(DefaultRetireGrace)
	n, err = store.Reap()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	held, err = filepath.Glob(filepath.Join(store.Dir(), retiredPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.Equal(t, map[string]string{"index.html": "v2"}, readTree(t, store.Path(site)))
}

func TestInstallKeepsOpenRootReadable(t *testing.T) {
	store := newTestStore(t)
	site := Site{ID: 1, Name: "conf"}
	installFixture(t, store, site, map[string]string{"index.html": "v1", "base.html": "b1"})

	root, err := os.OpenRoot(store.Path(site))
	require.NoError(t, err)
	defer root.Close()

	installFixture(t, store, site, map[string]string{"index.html": "v2"})
	data, err := fs.ReadFile(root.FS(), "base.html")
	require.NoError(t, err, "a reader that opened the old subtree still sees all of it")
	assert.Equal(t, "b1", string(data))
}

func TestNewTemplateStoreReapsExpiredHoldingDirs(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, retiredPrefix+"1000-abc")
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "tree"), 0o755))
	fresh := filepath.Join(dir, retiredPrefix+strconv.FormatInt(time.Now().Unix(), 10)+"-abc")
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	_, err := NewTemplateStore(dir)
	require.NoError(t, err)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)

	_, err = NewTemplateStore(dir, WithRetireGrace(0))
	require.NoError(t, err)
	assert.NoDirExists(t, fresh)
}

func TestRemoveSubtree(t *testing.T) {
	store := newTestStore(t)
	site := Site{ID: 1, Name: "conf"}
	installFixture(t, store, site, map[string]string{"index.html": "v1"})

	require.NoError(t, store.Remove(site))
	assert.False(t, store.Exists(site))
	assert.NoError(t, store.Remove(site))

	held, err := filepath.Glob(filepath.Join(store.Dir(), retiredPrefix+"*", "tree"))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, map[string]string{"index.html": "v1"}, readTree(t, held[0]))
}

func TestNewTemplateStoreCreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "templates")
	store, err := NewTemplateStore(dir)
	require.NoError(t, err)
	info, err := os.Stat(store.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(store.Dir()))
}

func TestRenameFollowsSiteName(t *testing.T) {
	store := newTestStore(t)
	before := Site{ID: 1, Name: "conf"}
	after := Site{ID: 1, Name: "conf2024"}
	installFixture(t, store, before, map[string]string{"index.html": "v1"})

	require.NoError(t, store.Rename(before, after))
	assert.False(t, store.Exists(before))
	assert.Equal(t, map[string]string{"index.html": "v1"}, readTree(t, store.Path(after)))

	assert.NoError(t, store.Rename(Site{ID: 2, Name: "ghost"}, Site{ID: 2, Name: "other"}))

	installFixture(t, store, before, map[string]string{"index.html": "v2"})
	assert.Error(t, store.Rename(before, after), "never overwrites another subtree")
}
