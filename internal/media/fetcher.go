package media

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

// Fetcher downloads images referenced by URL
type Fetcher struct {
	HTTPClient *http.Client
	MaxBytes   int64
}

// NewFetcher creates a new image fetcher
func NewFetcher(maxBytes int64) *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		MaxBytes: maxBytes,
	}
}

// Fetch downloads imageURL and returns it as an UploadedImage with the given id.
func (f *Fetcher) Fetch(ctx context.Context, imageURL, id string) (models.UploadedImage, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.UploadedImage{}, fmt.Errorf("invalid image url: %q", imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.UploadedImage{}, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	filename := path.Base(u.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "image"
	}

	img, err := ReadImage(resp.Body, id, filename, resp.Header.Get("Content-Type"), f.MaxBytes)
	if err != nil {
		return models.UploadedImage{}, err
	}

	slog.Info("Downloaded image", "url", imageURL, "bytes", img.Size, "mime_type", img.MimeType)
	return img, nil
}
