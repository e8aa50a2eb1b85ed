package ssg

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Packer builds a site's static export: every page rendered exactly as live
// serving would render it (minus site_id link decoration) and every static
// asset copied verbatim, each at its original relative path.
type Packer struct {
	engine *Engine
	logger *slog.Logger
}

// NewPacker creates a Packer rendering through engine.
func NewPacker(engine *Engine, logger *slog.Logger) *Packer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packer{engine: engine, logger: logger}
}

// Archive is a packed site on disk. Close removes it.
type Archive struct {
	Path  string
	Size  int64
	Pages int
	Files int
}

// Close removes the archive file.
func (a *Archive) Close() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Pack writes the site's archive to a temporary file. The caller owns the
// returned Archive and must Close it. On error nothing is left on disk.
func (p *Packer) Pack(ctx context.Context, site Site) (_ *Archive, err error) {
	tmp, err := os.CreateTemp("", "bamboo-pack-*.zip")
	if err != nil {
		return nil, fmt.Errorf("ssg: create archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	stats, err := p.PackTo(ctx, site, tmp)
	if err != nil {
		return nil, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	stats.Path = tmp.Name()
	stats.Size = info.Size()
	return stats, nil
}

// PackTo writes the site's archive to w. Any page that fails to render
// aborts the whole pack; a partial export is never produced silently. The
// whole pack reads one snapshot, so a fetch finishing midway does not mix
// two versions of the site.
func (p *Packer) PackTo(ctx context.Context, site Site, w io.Writer) (*Archive, error) {
	snap, err := p.engine.Snapshot(site)
	if err != nil {
		return nil, err
	}
	pages, err := snap.Pages()
	if err != nil {
		return nil, err
	}
	assets, err := snap.Assets()
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(w)
	for _, name := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := snap.Render(name, Packing())
		if err != nil {
			p.logger.Error("pack aborted", "site", site.Key(), "page", name, "error", err)
			return nil, err
		}
		if err := writeZipEntry(zw, name, page); err != nil {
			return nil, err
		}
	}
	for _, name := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := snap.Render(name)
		if err != nil {
			return nil, err
		}
		if err := writeZipEntry(zw, name, data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("ssg: finish archive: %w", err)
	}

	p.logger.Info("packed site", "site", site.Key(), "pages", len(pages), "assets", len(assets))
	return &Archive{Pages: len(pages), Files: len(pages) + len(assets)}, nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("ssg: add %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("ssg: add %s: %w", name, err)
	}
	return nil
}
