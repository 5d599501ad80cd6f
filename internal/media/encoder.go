// Package media turns uploaded image bytes into the encoded parts sent to a
// vision model, and reads the basic facts (type, size) the session needs.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

var (
	ErrEmptyImage      = errors.New("image has no data")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image exceeds size limit")
)

// EncodingError reports an image that could not be turned into an encoded part.
type EncodingError struct {
	Source string
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode %s: %v", e.Source, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Encode converts an uploaded image into a base64 part. The result only
// depends on the image bytes and mime type.
func Encode(img models.UploadedImage) (models.EncodedPart, error) {
	source := img.Filename
	if source == "" {
		source = img.ID
	}
	if len(img.Data) == 0 {
		return models.EncodedPart{}, &EncodingError{Source: source, Err: ErrEmptyImage}
	}

	mimeType, err := DetectMimeType(img.Data, img.MimeType)
	if err != nil {
		return models.EncodedPart{}, &EncodingError{Source: source, Err: err}
	}

	return models.EncodedPart{
		Data:     base64.StdEncoding.EncodeToString(img.Data),
		MimeType: mimeType,
	}, nil
}

// DetectMimeType returns the declared type when it names an image, otherwise
// the sniffed type of the data.
func DetectMimeType(data []byte, declared string) (string, error) {
	if declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err == nil && strings.HasPrefix(mediaType, "image/") {
			return mediaType, nil
		}
	}

	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, sniffed)
}

// NewImage validates data and builds an UploadedImage from it.
func NewImage(id, filename string, data []byte, declared string) (models.UploadedImage, error) {
	if len(data) == 0 {
		return models.UploadedImage{}, ErrEmptyImage
	}

	mimeType, err := DetectMimeType(data, declared)
	if err != nil {
		return models.UploadedImage{}, err
	}

	width, height, err := Dimensions(data)
	if err != nil {
		slog.Warn("Failed to get image dimensions", "filename", filename, "error", err)
		width, height = 0, 0
	}

	return models.UploadedImage{
		ID:         id,
		Filename:   filename,
		MimeType:   mimeType,
		Width:      width,
		Height:     height,
		Size:       len(data),
		Data:       data,
		UploadedAt: time.Now(),
	}, nil
}

// ReadImage reads at most maxBytes from r. A zero maxBytes means no limit.
func ReadImage(r io.Reader, id, filename, declared string, maxBytes int64) (models.UploadedImage, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("failed to read image data: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return models.UploadedImage{}, fmt.Errorf("%w (max %d bytes)", ErrTooLarge, maxBytes)
	}
	return NewImage(id, filename, data, declared)
}

// LoadFile reads an image from disk, taking the declared type from the extension.
func LoadFile(path, id string) (models.UploadedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.UploadedImage{}, &EncodingError{Source: path, Err: err}
	}
	return NewImage(id, filepath.Base(path), data, mime.TypeByExtension(filepath.Ext(path)))
}

// Dimensions decodes only the image header.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
