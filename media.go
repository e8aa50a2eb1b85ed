package bamboo

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"
)

const (
	maxUploadSize = 50 << 20 // 50MB
	jpegQuality   = 85
)

var (
	imageExts  = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
	slidesExts = map[string]bool{".ppt": true, ".pptx": true, ".pdf": true}
)

// mediaKind classifies an upload by extension, or returns "" when the file
// type is not accepted.
func mediaKind(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExts[ext]:
		return MediaImage
	case slidesExts[ext]:
		return MediaSlides
	}
	return ""
}

// smallName inserts suffix between the stem and the extension.
func smallName(name, suffix string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + suffix + ext
}

// makeSmallImage writes a copy of the image at src scaled by ratio next to
// it, keeping the source format.
func makeSmallImage(src string, suffix string, ratio float64) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w := max(1, int(float64(bounds.Dx())*ratio))
	h := max(1, int(float64(bounds.Dy())*ratio))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	out := smallName(src, suffix)
	o, err := os.Create(out)
	if err != nil {
		return "", err
	}
	switch format {
	case "png":
		err = png.Encode(o, dst)
	default:
		err = jpeg.Encode(o, dst, &jpeg.Options{Quality: jpegQuality})
	}
	if cerr := o.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("encode %s: %w", format, err)
	}
	return out, nil
}

func (a *App) handleUploadMedia(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file provided")
	}
	if file.Size > maxUploadSize {
		return echo.NewHTTPError(http.StatusBadRequest, "file too large (max 50MB)")
	}
	kind := mediaKind(file.Filename)
	if kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported file type")
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := c.Request().Context()
	id, err := a.Store.CreateMedia(ctx, kind)
	if err != nil {
		return err
	}
	// The id keeps names sortable; the random part keeps them unguessable.
	name := fmt.Sprintf("%d_%s%s", id, uuid.NewString()[:8], strings.ToLower(filepath.Ext(file.Filename)))
	path := filepath.Join(a.Config.MediaDir, name)

	size, err := writeUpload(path, src)
	if err != nil {
		_ = a.Store.DeleteMedia(ctx, id)
		return fmt.Errorf("write media: %w", err)
	}
	if err := a.Store.SetMediaPath(ctx, id, name, size); err != nil {
		os.Remove(path)
		return err
	}

	if kind == MediaImage {
		a.media.Add(1)
		go func() {
			defer a.media.Done()
			if _, err := makeSmallImage(path, a.Config.SmallImageSuffix, a.Config.SmallImageRatio); err != nil {
				a.Logger.Warn("small image failed", "media", name, "error", err)
			}
		}()
	}

	m, err := a.Store.GetMedia(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func writeUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return n, err
}

func (a *App) handleListMedia(c echo.Context) error {
	media, err := a.Store.ListMedia(c.Request().Context())
	if err != nil {
		return err
	}
	if media == nil {
		media = []Media{}
	}
	return c.JSON(http.StatusOK, media)
}

func (a *App) handleDeleteMedia(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	m, err := a.Store.GetMedia(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	}
	if err != nil {
		return err
	}
	if err := a.Store.DeleteMedia(ctx, id); err != nil {
		return err
	}
	removeMediaFiles(a.Config.MediaDir, m, a.Config.SmallImageSuffix)
	return c.NoContent(http.StatusNoContent)
}

// removeMediaFiles deletes the file and its small variant, ignoring files
// that are already gone.
func removeMediaFiles(dir string, m Media, suffix string) {
	if m.Path == "" {
		return
	}
	_ = os.Remove(filepath.Join(dir, m.Path))
	if m.ContentType == MediaImage {
		_ = os.Remove(filepath.Join(dir, smallName(m.Path, suffix)))
	}
}
