package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEncode(t *testing.T) {
	data := testPNG(t, 4, 4)
	part, err := Encode(models.UploadedImage{ID: "original", Data: data, MimeType: "image/png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if part.MimeType != "image/png" {
		t.Errorf("Expected mime type image/png, got %s", part.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(part.Data)
	if err != nil {
		t.Fatalf("encoded data is not base64: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("decoded data does not match input")
	}

	again, _ := Encode(models.UploadedImage{ID: "other", Data: data, MimeType: "image/png"})
	if again != part {
		t.Error("encoding the same bytes twice gave different parts")
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		img     models.UploadedImage
		wantErr error
	}{
		{
			name:    "empty data",
			img:     models.UploadedImage{ID: "e1", Filename: "empty.png"},
			wantErr: ErrEmptyImage,
		},
		{
			name:    "not an image",
			img:     models.UploadedImage{ID: "e2", Data: []byte("hello, world"), MimeType: "text/plain"},
			wantErr: ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.img)
			var encErr *EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("Expected EncodingError, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDetectMimeType(t *testing.T) {
	pngData := testPNG(t, 1, 1)
	tests := []struct {
		name     string
		data     []byte
		declared string
		expected string
		wantErr  bool
	}{
		{name: "declared image type wins", data: pngData, declared: "image/jpeg", expected: "image/jpeg"},
		{name: "parameters are dropped", data: pngData, declared: "image/png; q=1", expected: "image/png"},
		{name: "sniffs when declared is generic", data: pngData, declared: "application/octet-stream", expected: "image/png"},
		{name: "sniffs when nothing declared", data: pngData, expected: "image/png"},
		{name: "rejects text", data: []byte("plain text body"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMimeType(tt.data, tt.declared)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedType) {
					t.Errorf("Expected ErrUnsupportedType, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestNewImageReadsDimensions(t *testing.T) {
	img, err := NewImage("original", "beach.png", testPNG(t, 3, 2), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Width != 3 || img.Height != 2 {
		t.Errorf("Expected 3x2, got %dx%d", img.Width, img.Height)
	}
	if img.Size == 0 || img.MimeType != "image/png" {
		t.Errorf("unexpected image metadata: %+v", img)
	}
}

func TestReadImageLimit(t *testing.T) {
	data := testPNG(t, 8, 8)
	if _, err := ReadImage(bytes.NewReader(data), "e1", "a.png", "", int64(len(data)-1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
	if _, err := ReadImage(bytes.NewReader(data), "e1", "a.png", "", int64(len(data))); err != nil {
		t.Errorf("image at the limit should be accepted: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beach.png")
	if err := os.WriteFile(path, testPNG(t, 2, 2), 0644); err != nil {
		t.Fatal(err)
	}

	img, err := LoadFile(path, "original")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Filename != "beach.png" || img.ID != "original" {
		t.Errorf("unexpected image: %+v", img)
	}

	_, err = LoadFile(filepath.Join(dir, "missing.png"), "original")
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Errorf("Expected EncodingError for missing file, got %v", err)
	}
}

func TestFetcher(t *testing.T) {
	data := testPNG(t, 2, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	f := NewFetcher(1024 * 1024)
	img, err := f.Fetch(context.Background(), server.URL+"/photos/beach.png", "original")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Filename != "beach.png" || !bytes.Equal(img.Data, data) {
		t.Errorf("unexpected image: %s (%d bytes)", img.Filename, img.Size)
	}

	if _, err := f.Fetch(context.Background(), server.URL+"/missing.png", "original"); err == nil {
		t.Error("Expected error for 404")
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/a.png", "original"); err == nil {
		t.Error("Expected error for non-http url")
	}
}
