// Package capacity estimates how many payload bytes a cover image can carry
// and how much of that capacity a given payload uses.
//
// The numbers here mirror the embedding policy of the steganography server
// (one least-significant bit per colour channel of a 3-channel image, minus a
// fixed safety margin). They are a heuristic; the server's own figure wins
// whenever it is available.
package capacity

import (
	"errors"
	"fmt"
	"math"
)

const (
	// BitsPerPixel is one hidden bit per RGB channel.
	BitsPerPixel = 3

	// UsableFraction reserves headroom for length prefixes, encryption
	// padding and checksums added by the server.
	UsableFraction = 0.85

	// usable percent, applied in integer arithmetic so floor(raw*0.85) is exact
	usablePercent = 85

	// FallbackBytes is the conservative capacity used when dimensions are unusable.
	FallbackBytes = 10 * 1024
)

// ErrInvalidDimensions is returned for zero, negative or unrepresentable sizes.
var ErrInvalidDimensions = errors.New("invalid image dimensions")

// Source identifies where an estimate came from.
type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

// Dimensions is the pixel size of a cover image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String formats dimensions as WxH.
func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Estimate is a usable payload capacity in bytes.
// A zero MaxBytes means the capacity is not known yet.
type Estimate struct {
	MaxBytes int64  `json:"max_bytes"`
	Source   Source `json:"source"`
	// Degraded marks the fixed fallback used when dimensions were unusable.
	Degraded bool `json:"degraded,omitempty"`
}

// Known reports whether the estimate carries a usable capacity.
func (e Estimate) Known() bool {
	return e.MaxBytes > 0
}

// RawBytes returns floor(width*height*3/8).
func RawBytes(d Dimensions) (int64, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDimensions, d)
	}

	w, h := int64(d.Width), int64(d.Height)
	if w > math.MaxInt64/usablePercent/BitsPerPixel/h {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidDimensions, d)
	}

	return w * h * BitsPerPixel / 8, nil
}

// FromDimensions computes the client-side estimate for an image.
func FromDimensions(d Dimensions) (Estimate, error) {
	raw, err := RawBytes(d)
	if err != nil {
		return Estimate{}, err
	}

	return Estimate{
		MaxBytes: raw * usablePercent / 100,
		Source:   SourceClient,
	}, nil
}

// ClientEstimate is FromDimensions with the degraded fallback applied on error.
func ClientEstimate(d Dimensions) Estimate {
	est, err := FromDimensions(d)
	if err != nil {
		return Fallback()
	}
	return est
}

// Fallback returns the fixed low-confidence estimate.
func Fallback() Estimate {
	return Estimate{
		MaxBytes: FallbackBytes,
		Source:   SourceClient,
		Degraded: true,
	}
}

// ServerEstimate wraps a capacity reported by the server.
func ServerEstimate(maxBytes int64) Estimate {
	return Estimate{
		MaxBytes: maxBytes,
		Source:   SourceServer,
	}
}
