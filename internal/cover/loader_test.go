package cover

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

type fakeMedia struct {
	data []byte
	err  error
	got  string
}

func (f *fakeMedia) DownloadMedia(ctx context.Context, mxcURI string) ([]byte, string, error) {
	f.got = mxcURI
	return f.data, "image/png", f.err
}

// TestLoad_File verifies local paths are read from disk
func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cover.png")
	if err := os.WriteFile(p, encodePNG(t, 32, 16), 0600); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	img, err := NewLoader(nil, nil).Load(context.Background(), p)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if img.Name != "cover.png" || img.Ref != p {
		t.Errorf("Unexpected name/ref: %s %s", img.Name, img.Ref)
	}
	if img.Info.Width != 32 || img.Info.Height != 16 {
		t.Errorf("Expected 32x16, got %dx%d", img.Info.Width, img.Info.Height)
	}
	if img.ID != HashImage(img.Data) {
		t.Error("Expected ID to be the content hash")
	}
}

// TestLoad_MissingFile verifies a useful error for missing files
func TestLoad_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestLoad_URL verifies http downloads
func TestLoad_URL(t *testing.T) {
	data := encodePNG(t, 10, 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	loader := NewLoader(srv.Client(), nil)

	img, err := loader.Load(context.Background(), srv.URL+"/images/photo.png")
	if err != nil {
		t.Fatalf("Failed to load URL: %v", err)
	}
	if img.Name != "photo.png" {
		t.Errorf("Expected name photo.png, got %s", img.Name)
	}
	if img.Info.Width != 10 || img.Info.Height != 20 {
		t.Errorf("Expected 10x20, got %dx%d", img.Info.Width, img.Info.Height)
	}

	if _, err := loader.Load(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("Expected error for 404")
	}
}

// TestLoad_Matrix verifies mxc:// URIs go through the media downloader
func TestLoad_Matrix(t *testing.T) {
	media := &fakeMedia{data: encodePNG(t, 8, 8)}
	loader := NewLoader(nil, media)

	img, err := loader.Load(context.Background(), "mxc://matrix.org/abc123")
	if err != nil {
		t.Fatalf("Failed to load mxc: %v", err)
	}
	if media.got != "mxc://matrix.org/abc123" {
		t.Errorf("Expected downloader to receive the URI, got %s", media.got)
	}
	if img.UploadName() != "abc123.png" {
		t.Errorf("Expected upload name abc123.png, got %s", img.UploadName())
	}
}

// TestLoad_MatrixUnconfigured verifies mxc:// needs an account
func TestLoad_MatrixUnconfigured(t *testing.T) {
	if _, err := NewLoader(nil, nil).Load(context.Background(), "mxc://matrix.org/abc"); err == nil {
		t.Error("Expected error without Matrix downloader")
	}
}

// TestLoad_MatrixError verifies download errors propagate
func TestLoad_MatrixError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewLoader(nil, &fakeMedia{err: boom}).Load(context.Background(), "mxc://matrix.org/abc")
	if !errors.Is(err, boom) {
		t.Errorf("Expected download error, got %v", err)
	}
}
