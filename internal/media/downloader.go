// Package media downloads remote media assets into a local spool directory,
// enforcing the configured size limit.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"

	"instabridge/internal/models"
)

// ErrTooLarge is returned when an asset exceeds the size limit and cannot be
// reduced under it.
var ErrTooLarge = errors.New("media exceeds size limit")

// minPhotoWidth stops the downscale loop; below this the image is useless.
const minPhotoWidth = 320

// Downloader fetches media over HTTP into a spool directory. Photos that
// exceed the size limit are downscaled until they fit; other kinds are
// rejected with ErrTooLarge.
type Downloader struct {
	client   *resty.Client
	dir      string
	maxBytes int64
}

// NewDownloader creates the spool directory and the HTTP client.
func NewDownloader(dir string, timeout time.Duration, maxBytes int64) (*Downloader, error) {
	if dir == "" {
		return nil, fmt.Errorf("media spool directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media spool directory: %w", err)
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; instabridge)")

	return &Downloader{client: client, dir: dir, maxBytes: maxBytes}, nil
}

// Fetch downloads the URL into the spool directory and returns the local
// path. ext is the file extension without the dot.
func (d *Downloader) Fetch(ctx context.Context, url, ext string) (string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return "", fmt.Errorf("media download returned status %d", resp.StatusCode())
	}

	// Photos get headroom so oversized ones can still be decoded and
	// downscaled; everything else is cut off at the limit.
	hardCap := d.maxBytes
	if ext == "jpg" {
		hardCap = 4 * d.maxBytes
	}

	data, err := io.ReadAll(io.LimitReader(body, hardCap+1))
	if err != nil {
		return "", fmt.Errorf("failed to read media body: %w", err)
	}
	if int64(len(data)) > hardCap {
		return "", ErrTooLarge
	}

	if int64(len(data)) > d.maxBytes {
		if ext != "jpg" {
			return "", ErrTooLarge
		}
		data, err = d.shrinkPhoto(data)
		if err != nil {
			return "", err
		}
	}

	f, err := os.CreateTemp(d.dir, "media-*."+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close spool file: %w", err)
	}

	log.Debug().Str("path", f.Name()).Int("bytes", len(data)).Msg("Media downloaded")
	return f.Name(), nil
}

// shrinkPhoto halves the photo's width until the re-encoded JPEG fits the
// size limit.
func (d *Downloader) shrinkPhoto(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode oversized photo: %w", err)
	}

	width := img.Bounds().Dx()
	for width/2 >= minPhotoWidth {
		width /= 2
		img = resize.Resize(uint(width), 0, img, resize.Lanczos3)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to re-encode photo: %w", err)
		}
		if int64(buf.Len()) <= d.maxBytes {
			log.Debug().Int("width", width).Int("bytes", buf.Len()).Msg("Downscaled oversized photo")
			return buf.Bytes(), nil
		}
	}

	return nil, ErrTooLarge
}

// Cleanup removes spooled media files after a publish attempt. Best effort.
func Cleanup(items []models.MediaItem) {
	for _, item := range items {
		if item.LocalPath == "" {
			continue
		}
		if err := os.Remove(item.LocalPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", item.LocalPath).Msg("Failed to remove spooled media file")
		}
	}
}
