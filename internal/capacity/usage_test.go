package capacity

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/quick"
)

func fullHD() Estimate {
	return ClientEstimate(Dimensions{Width: 1920, Height: 1080})
}

// TestUsage_TextScenario verifies a 50000-byte message against a 1920x1080 cover
func TestUsage_TextScenario(t *testing.T) {
	message := strings.Repeat("a", 50000)

	state, ok := Usage(TextPayloadSize(message), fullHD())
	if !ok {
		t.Fatal("Expected usage state")
	}
	if state.Percentage != 8 {
		t.Errorf("Expected 8%%, got %d%%", state.Percentage)
	}
	if state.Band != BandNormal {
		t.Errorf("Expected normal band, got %s", state.Band)
	}
	if state.String() != "50000 / 660960 bytes (8%)" {
		t.Errorf("Unexpected string: %s", state.String())
	}
}

// TestUsage_FileScenario verifies a 600000-byte file against a 1920x1080 cover
func TestUsage_FileScenario(t *testing.T) {
	state, ok := Usage(600000, fullHD())
	if !ok {
		t.Fatal("Expected usage state")
	}
	if state.Percentage != 91 {
		t.Errorf("Expected 91%%, got %d%%", state.Percentage)
	}
	if state.Band != BandCritical {
		t.Errorf("Expected critical band, got %s", state.Band)
	}
	if state.Exceeded() {
		t.Error("600000 bytes should still fit")
	}
	if state.Remaining() != 60960 {
		t.Errorf("Expected 60960 remaining, got %d", state.Remaining())
	}
}

// TestUsage_BandBoundaries verifies inclusive warning bounds
func TestUsage_BandBoundaries(t *testing.T) {
	capacity := ServerEstimate(10000)

	tests := []struct {
		name string
		used int64
		band Band
	}{
		{"empty", 0, BandNormal},
		{"just below 70", 6999, BandNormal},
		{"exactly 70", 7000, BandWarning},
		{"middle", 8000, BandWarning},
		{"exactly 90", 9000, BandWarning},
		{"90.01", 9001, BandCritical},
		{"full", 10000, BandCritical},
		{"over", 25000, BandCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ok := Usage(tt.used, capacity)
			if !ok {
				t.Fatal("Expected usage state")
			}
			if state.Band != tt.band {
				t.Errorf("Expected %s, got %s", tt.band, state.Band)
			}
		})
	}
}

// TestUsage_BandsAtExtremeSizes verifies bands stay exact for sizes near MaxInt64
func TestUsage_BandsAtExtremeSizes(t *testing.T) {
	tests := []struct {
		name     string
		used     int64
		capBytes int64
		band     Band
	}{
		{"far over capacity", math.MaxInt64, math.MaxInt64 / 50, BandCritical},
		{"full", math.MaxInt64, math.MaxInt64, BandCritical},
		{"exactly 90", math.MaxInt64 / 10 * 9, math.MaxInt64 / 10 * 10, BandWarning},
		{"exactly 70", math.MaxInt64 / 10 * 7, math.MaxInt64 / 10 * 10, BandWarning},
		{"just below 70", math.MaxInt64/10*7 - 1, math.MaxInt64 / 10 * 10, BandNormal},
		{"half", math.MaxInt64 / 2, math.MaxInt64 - 1, BandNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ok := Usage(tt.used, ServerEstimate(tt.capBytes))
			if !ok {
				t.Fatal("Expected usage state")
			}
			if state.Band != tt.band {
				t.Errorf("Expected %s, got %s", tt.band, state.Band)
			}
		})
	}
}

// TestUsage_OverCapacity verifies display capping while the band stays critical
func TestUsage_OverCapacity(t *testing.T) {
	state, ok := Usage(3000, ServerEstimate(1000))
	if !ok {
		t.Fatal("Expected usage state")
	}
	if state.Percentage != 100 {
		t.Errorf("Expected display cap 100, got %d", state.Percentage)
	}
	if state.Band != BandCritical {
		t.Errorf("Expected critical, got %s", state.Band)
	}
	if !state.Exceeded() {
		t.Error("Expected exceeded")
	}
	if state.Remaining() != -2000 {
		t.Errorf("Expected -2000 remaining, got %d", state.Remaining())
	}
}

// TestUsage_UnknownCapacity verifies no state is produced without a capacity
func TestUsage_UnknownCapacity(t *testing.T) {
	if _, ok := Usage(100, Estimate{}); ok {
		t.Error("Expected no usage state for unknown capacity")
	}
	if _, ok := Usage(0, Estimate{Source: SourceServer}); ok {
		t.Error("Expected no usage state for zero server capacity")
	}
}

// TestUsage_PercentageFormula checks the rounding rule for arbitrary inputs
func TestUsage_PercentageFormula(t *testing.T) {
	property := func(used uint32, maxBytes uint32) bool {
		est := ServerEstimate(int64(maxBytes) + 1)
		state, ok := Usage(int64(used), est)
		if !ok {
			return false
		}
		want := math.Min(100, math.Round(float64(used)/float64(est.MaxBytes)*100))
		return state.Percentage == int(want)
	}

	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

// TestUsage_Idempotent verifies recomputation yields identical state
func TestUsage_Idempotent(t *testing.T) {
	a, _ := Usage(12345, fullHD())
	b, _ := Usage(12345, fullHD())
	if a != b {
		t.Errorf("Expected identical states, got %+v and %+v", a, b)
	}
}

// TestTextPayloadSize_MultiByte verifies bytes, not characters, are counted
func TestTextPayloadSize_MultiByte(t *testing.T) {
	tests := []struct {
		text     string
		expected int64
	}{
		{"", 0},
		{"hello", 5},
		{"héllo", 6},
		{"日本語", 9},
		{"🙂", 4},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := TextPayloadSize(tt.text); got != tt.expected {
				t.Errorf("Expected %d bytes, got %d", tt.expected, got)
			}
		})
	}
}

// TestFilePayloadSize verifies the filesystem size is used unchanged
func TestFilePayloadSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, make([]byte, 4096), 0600); err != nil {
		t.Fatalf("Failed to write payload: %v", err)
	}

	size, err := FilePayloadSize(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if size != 4096 {
		t.Errorf("Expected 4096, got %d", size)
	}

	if _, err := FilePayloadSize(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := FilePayloadSize(dir); err == nil {
		t.Error("Expected error for directory")
	}
}
