// Package cover loads cover images and reads the facts the capacity
// estimator needs: pixel dimensions, MIME type, size and a content hash.
package cover

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Import for image format support
	_ "image/jpeg" // Import for image format support
	_ "image/png"  // Import for image format support
	"path/filepath"
	"strings"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	_ "golang.org/x/image/bmp"  // Import for image format support
	_ "golang.org/x/image/tiff" // Import for image format support
	_ "golang.org/x/image/webp" // Import for image format support
)

// MaxSize is the largest cover or payload accepted for upload (50 MiB).
const MaxSize = 50 * 1024 * 1024

var (
	// ErrNotImage is returned when the data is not a recognised image.
	ErrNotImage = errors.New("not an image")
	// ErrTooLarge is returned when the data exceeds MaxSize.
	ErrTooLarge = errors.New("file too large")
)

// ImageInfo contains metadata about an image
type ImageInfo struct {
	Width     int
	Height    int
	SizeBytes int64
	MimeType  string
}

// Dimensions returns the pixel size for capacity estimation
func (i ImageInfo) Dimensions() capacity.Dimensions {
	return capacity.Dimensions{Width: i.Width, Height: i.Height}
}

// Image is a loaded cover image
type Image struct {
	// Name is the file name used for uploads
	Name string
	// Ref is what the user asked for: a path, URL or mxc:// URI
	Ref  string
	Data []byte
	Info ImageInfo
	// ID is the SHA-256 of Data
	ID string
}

// FromBytes inspects raw image data.
// An image whose header cannot be decoded keeps zero dimensions; the estimator
// turns those into the degraded fallback.
func FromBytes(name, ref string, data []byte) (*Image, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxSize)
	}

	info, err := GetImageInfo(data)
	if err != nil {
		mimeType := detectMimeType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, fmt.Errorf("%w: %s", ErrNotImage, name)
		}
		info = &ImageInfo{SizeBytes: int64(len(data)), MimeType: mimeType}
	}

	return &Image{
		Name: name,
		Ref:  ref,
		Data: data,
		Info: *info,
		ID:   HashImage(data),
	}, nil
}

// UploadName returns Name, adding an extension that matches the MIME type
// when Name has none. The server picks its decoder from the extension.
func (i *Image) UploadName() string {
	if filepath.Ext(i.Name) != "" {
		return i.Name
	}
	switch i.Info.MimeType {
	case "image/png":
		return i.Name + ".png"
	case "image/jpeg":
		return i.Name + ".jpg"
	case "image/gif":
		return i.Name + ".gif"
	case "image/bmp":
		return i.Name + ".bmp"
	case "image/tiff":
		return i.Name + ".tiff"
	case "image/webp":
		return i.Name + ".webp"
	}
	return i.Name
}

// GetImageInfo extracts image metadata
func GetImageInfo(data []byte) (*ImageInfo, error) {
	img, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return &ImageInfo{
		Width:     img.Width,
		Height:    img.Height,
		SizeBytes: int64(len(data)),
		MimeType:  formatToMimeType(format),
	}, nil
}

// HashImage generates a SHA256 hash of image data (history ID)
func HashImage(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// detectMimeType attempts to detect MIME type from data
func detectMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}

	switch {
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
		return "image/gif"
	case data[0] == 0x42 && data[1] == 0x4D:
		return "image/bmp"
	case (data[0] == 0x49 && data[1] == 0x49 && data[2] == 0x2A && data[3] == 0x00) ||
		(data[0] == 0x4D && data[1] == 0x4D && data[2] == 0x00 && data[3] == 0x2A):
		return "image/tiff"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}

	return "application/octet-stream"
}

// formatToMimeType converts image format string to MIME type
func formatToMimeType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "image/" + format
	}
}
