package ssg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	retiredPrefix = ".old-"
	// DefaultRetireGrace is how long a replaced subtree stays on disk for
	// renders and packs that opened it before the swap.
	DefaultRetireGrace = 10 * time.Minute
)

// TemplateStore is the on-disk tree holding one subtree per site at
// {dir}/{id}_{name}. Subtrees are only ever replaced whole.
//
// A replaced or removed subtree is moved to a .old-{unix}-* holding
// directory instead of being deleted, so an open reader keeps a complete
// tree. Holding directories older than the grace period are reaped on the
// next Install or Remove, or by Reap.
type TemplateStore struct {
	dir   string
	grace time.Duration
	mu    sync.Mutex // serializes installs, renames and removals
	now   func() time.Time
}

// StoreOption configures a TemplateStore.
type StoreOption func(*TemplateStore)

// WithRetireGrace sets how long replaced subtrees are kept before reaping.
func WithRetireGrace(d time.Duration) StoreOption {
	return func(s *TemplateStore) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// NewTemplateStore opens (or creates) a template store rooted at dir.
// Expired holding directories left by an earlier process are reaped.
func NewTemplateStore(dir string, opts ...StoreOption) (*TemplateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ssg: create template store: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	s := &TemplateStore{dir: abs, grace: DefaultRetireGrace, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Reap(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store root.
func (s *TemplateStore) Dir() string { return s.dir }

// Path returns where the site's subtree lives, whether or not it exists.
func (s *TemplateStore) Path(site Site) string {
	return filepath.Join(s.dir, site.Key())
}

// Exists reports whether the site's subtree is present.
func (s *TemplateStore) Exists(site Site) bool {
	info, err := os.Stat(s.Path(site))
	return err == nil && info.IsDir()
}

// scratch creates an empty directory inside the store root. Living on the
// same filesystem as the subtrees is what makes Install a rename. Names start
// with a dot so they never collide with a site key.
func (s *TemplateStore) scratch(prefix string) (string, error) {
	return os.MkdirTemp(s.dir, "."+prefix+"-*")
}

// retire moves the tree at path into a fresh holding directory. Open
// directory handles on it stay valid across the rename.
func (s *TemplateStore) retire(path string) (string, error) {
	hold, err := os.MkdirTemp(s.dir, retiredPrefix+strconv.FormatInt(s.now().Unix(), 10)+"-*")
	if err != nil {
		return "", err
	}
	tree := filepath.Join(hold, "tree")
	if err := os.Rename(path, tree); err != nil {
		os.Remove(hold)
		return "", err
	}
	return tree, nil
}

// Reap deletes holding directories older than the grace period and reports
// how many it removed.
func (s *TemplateStore) Reap() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reap()
}

func (s *TemplateStore) reap() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.grace).Unix()
	removed := 0
	var errs []error
	for _, e := range entries {
		stamp, ok := retiredAt(e.Name())
		if !ok || stamp > cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// retiredAt parses the unix time out of a .old-{unix}-* name.
func retiredAt(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, retiredPrefix)
	if !ok {
		return 0, false
	}
	stamp, _, _ := strings.Cut(rest, "-")
	n, err := strconv.ParseInt(stamp, 10, 64)
	return n, err == nil
}

// Install makes src the site's subtree. src must be a directory inside the
// store root. Readers see either the previous subtree or the new one; on
// error the previous subtree is kept.
func (s *TemplateStore) Install(site Site, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reaping is best effort; a stuck holding dir must not block installs.
	_, _ = s.reap()

	dest := s.Path(site)
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(src, dest)
	}

	if err := exchange(src, dest); err == nil {
		// src now holds the previous subtree. If it cannot be retired it
		// stays in src and goes with the caller's scratch dir.
		_, _ = s.retire(src)
		return nil
	}

	// Without an atomic exchange the path is briefly missing.
	old, err := s.retire(dest)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dest); err != nil {
		if rerr := os.Rename(old, dest); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// Remove retires the site's subtree. A missing subtree is not an error.
func (s *TemplateStore) Remove(site Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.reap()
	dest := s.Path(site)
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	_, err := s.retire(dest)
	return err
}

// Rename moves a site's subtree after the site's name changed, so the
// {id}_{name} layout keeps pointing at it. A missing subtree is not an error.
func (s *TemplateStore) Rename(from, to Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, dest := s.Path(from), s.Path(to)
	if src == dest {
		return nil
	}
	if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("ssg: rename %s: %s already exists", from.Key(), to.Key())
	}
	return os.Rename(src, dest)
}
