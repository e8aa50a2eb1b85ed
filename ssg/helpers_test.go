package ssg

import (
	"archive/zip"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixtureFiles is a small but complete site: pages, a nested page extending
// a reserved layout, and static assets.
var fixtureFiles = map[string]string{
	"index.html":          "hello {{site.name}}",
	"jinja/layout.html":   "hello {% block name %}{% endblock %}",
	"page.html":           "{% extends \"jinja/layout.html\" %}\n{% block name %}{{site.name}}{% endblock %}",
	"about/index.html":    "{% extends \"jinja/layout.html\" %}\n{% block name %}{{site.name}}{% endblock %}",
	"static/style.css":    "body { color: red; }",
	"static/index.js":     "console.log('Hello, world!');",
	"static/favicon.ico":  "test",
	"static/img/logo.jpg": "test",
}

type staticSites []Site

func (s staticSites) ListSites(context.Context) ([]Site, error) { return s, nil }

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

// buildZip lays files out under wrapper/ the way GitHub zipballs do.
func buildZip(t *testing.T, wrapper string, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create(wrapper + "/")
	require.NoError(t, err)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: wrapper + "/" + name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestStore(t *testing.T) *TemplateStore {
	t.Helper()
	store, err := NewTemplateStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// installFixture writes files as the site's subtree.
func installFixture(t *testing.T, store *TemplateStore, site Site, files map[string]string) {
	t.Helper()
	src, err := store.scratch("test")
	require.NoError(t, err)
	writeTree(t, src, files)
	require.NoError(t, store.Install(site, src))
}
