package capacity

import (
	"fmt"
	"math"
	"math/bits"
	"os"
)

// Band is the severity tier of a usage percentage.
type Band string

const (
	BandNormal   Band = "normal"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

// Band thresholds in percent. Warning covers [70, 90] inclusive.
const (
	WarningThreshold  = 70
	CriticalThreshold = 90
)

// UsageState is the capacity indicator for one payload against one estimate.
type UsageState struct {
	UsedBytes int64    `json:"used_bytes"`
	Capacity  Estimate `json:"capacity"`
	// Percentage is rounded and capped at 100 for display.
	Percentage int  `json:"percentage"`
	Band       Band `json:"band"`
}

// Exceeded reports whether the payload is larger than the capacity.
func (u UsageState) Exceeded() bool {
	return u.UsedBytes > u.Capacity.MaxBytes
}

// Remaining returns the bytes left, negative when over capacity.
func (u UsageState) Remaining() int64 {
	return u.Capacity.MaxBytes - u.UsedBytes
}

// String formats the state as "used / max bytes (pct%)".
func (u UsageState) String() string {
	return fmt.Sprintf("%d / %d bytes (%d%%)", u.UsedBytes, u.Capacity.MaxBytes, u.Percentage)
}

// Usage computes the usage state for usedBytes against est.
// It returns false when the capacity is unknown (MaxBytes == 0); callers must
// show "unknown" rather than 0%.
func Usage(usedBytes int64, est Estimate) (UsageState, bool) {
	if !est.Known() {
		return UsageState{}, false
	}
	if usedBytes < 0 {
		usedBytes = 0
	}

	pct := math.Round(float64(usedBytes) / float64(est.MaxBytes) * 100)
	if pct > 100 {
		pct = 100
	}

	return UsageState{
		UsedBytes:  usedBytes,
		Capacity:   est,
		Percentage: int(pct),
		Band:       bandFor(usedBytes, est.MaxBytes),
	}, true
}

// bandFor classifies the uncapped ratio with exact integer comparisons so
// boundaries like exactly 70% or 90% are not subject to float error. The
// products are 128-bit, so no input overflows.
func bandFor(used, capBytes int64) Band {
	switch {
	case compareScaled(used, 100, capBytes, WarningThreshold) < 0:
		return BandNormal
	case compareScaled(used, 100, capBytes, CriticalThreshold) <= 0:
		return BandWarning
	default:
		return BandCritical
	}
}

// compareScaled compares a*fa with b*fb for non-negative operands.
func compareScaled(a, fa, b, fb int64) int {
	ahi, alo := bits.Mul64(uint64(a), uint64(fa))
	bhi, blo := bits.Mul64(uint64(b), uint64(fb))
	switch {
	case ahi != bhi:
		return cmpUint(ahi, bhi)
	default:
		return cmpUint(alo, blo)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TextPayloadSize returns the UTF-8 byte length of a message.
func TextPayloadSize(message string) int64 {
	return int64(len(message))
}

// FilePayloadSize returns the size of a payload file as reported by the filesystem.
func FilePayloadSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat payload file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("payload is a directory: %s", path)
	}
	return info.Size(), nil
}
