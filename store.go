package bamboo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/bamboo/ssg"
)

// Store wraps a SQLite database holding site records and media metadata.
// It satisfies ssg.SiteLister.
type Store struct {
	db *sql.DB
}

var _ ssg.SiteLister = (*Store)(nil)

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the sync pass read sites while the API writes; the busy
	// timeout makes writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA foreign_keys=ON;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sites (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    template_url TEXT NOT NULL DEFAULT '',
    config TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS media (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    uploaded_at TEXT NOT NULL
);
`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (ssg.Site, error) {
	var site ssg.Site
	var cfg string
	if err := row.Scan(&site.ID, &site.Name, &site.TemplateURL, &cfg); err != nil {
		return ssg.Site{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &site.Config); err != nil {
		return ssg.Site{}, fmt.Errorf("bamboo: site %d config: %w", site.ID, err)
	}
	return site, nil
}

func encodeConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("bamboo: encode site config: %w", err)
	}
	return string(b), nil
}

// ListSites returns every site ordered by id.
func (s *Store) ListSites(ctx context.Context) ([]ssg.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, template_url, config FROM sites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []ssg.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// GetSite returns a site by id, or ErrNotFound.
func (s *Store) GetSite(ctx context.Context, id int64) (ssg.Site, error) {
	return scanSite(s.db.QueryRowContext(ctx, `SELECT id, name, template_url, config FROM sites WHERE id = ?`, id))
}

// CreateSite inserts site and returns it with its assigned id.
func (s *Store) CreateSite(ctx context.Context, site ssg.Site) (ssg.Site, error) {
	cfg, err := encodeConfig(site.Config)
	if err != nil {
		return ssg.Site{}, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO sites (name, template_url, config) VALUES (?, ?, ?)`,
		site.Name, site.TemplateURL, cfg)
	if err != nil {
		return ssg.Site{}, err
	}
	site.ID, err = res.LastInsertId()
	return site, err
}

// UpdateSite overwrites the stored record for site.ID.
func (s *Store) UpdateSite(ctx context.Context, site ssg.Site) error {
	cfg, err := encodeConfig(site.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sites SET name = ?, template_url = ?, config = ? WHERE id = ?`,
		site.Name, site.TemplateURL, cfg, site.ID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteSite removes a site record.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMedia inserts a media row with an empty path. The id is needed to
// name the file, so callers set the path with SetMediaPath afterwards.
func (s *Store) CreateMedia(ctx context.Context, contentType string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO media (content_type, uploaded_at) VALUES (?, ?)`,
		contentType, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetMediaPath records where the media file was written.
func (s *Store) SetMediaPath(ctx context.Context, id int64, path string, size int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET path = ?, size = ? WHERE id = ?`, path, size, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// GetMedia returns a media row by id, or ErrNotFound.
func (s *Store) GetMedia(ctx context.Context, id int64) (Media, error) {
	return scanMedia(s.db.QueryRowContext(ctx, `SELECT id, path, content_type, size, uploaded_at FROM media WHERE id = ?`, id))
}

// ListMedia returns all media ordered by most recent upload first.
func (s *Store) ListMedia(ctx context.Context) ([]Media, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, content_type, size, uploaded_at FROM media WHERE path != '' ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

// DeleteMedia removes a media row.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func scanMedia(row rowScanner) (Media, error) {
	var m Media
	var uploaded string
	if err := row.Scan(&m.ID, &m.Path, &m.ContentType, &m.Size, &uploaded); err != nil {
		return Media{}, err
	}
	m.UploadedAt, _ = time.Parse(time.RFC3339, uploaded)
	return m, nil
}
