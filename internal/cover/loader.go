package cover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MediaDownloader fetches Matrix media by mxc:// URI.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mxcURI string) ([]byte, string, error)
}

// Loader resolves cover references to images.
type Loader struct {
	httpClient *http.Client
	media      MediaDownloader
}

// NewLoader creates a loader. media may be nil when no Matrix account is configured.
func NewLoader(httpClient *http.Client, media MediaDownloader) *Loader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Loader{httpClient: httpClient, media: media}
}

// Load reads a cover from a local path, an http(s) URL or an mxc:// URI.
func (l *Loader) Load(ctx context.Context, ref string) (*Image, error) {
	switch {
	case strings.HasPrefix(ref, "mxc://"):
		return l.loadMatrix(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.loadURL(ctx, ref)
	default:
		return LoadFile(ref)
	}
}

// LoadFile reads a cover from disk.
func LoadFile(p string) (*Image, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() > MaxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, p, info.Size(), MaxSize)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return FromBytes(filepath.Base(p), p, data)
}

func (l *Loader) loadURL(ctx context.Context, ref string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	// Read one byte past the limit to detect oversize bodies
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}

	return FromBytes(nameFromURL(ref), ref, data)
}

func (l *Loader) loadMatrix(ctx context.Context, ref string) (*Image, error) {
	if l.media == nil {
		return nil, fmt.Errorf("cannot load %s: no Matrix account configured - run 'stegmeter login' first", ref)
	}

	data, _, err := l.media.DownloadMedia(ctx, ref)
	if err != nil {
		return nil, err
	}

	return FromBytes(nameFromURL(ref), ref, data)
}

// nameFromURL picks an upload file name from the last path segment.
func nameFromURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return "cover"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "cover"
	}
	return name
}
