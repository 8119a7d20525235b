package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// TestRecordAnalysis_New verifies adding a new analysis works
func TestRecordAnalysis_New(t *testing.T) {
	tmpDir := t.TempDir()

	analysis := testAnalysis("abc123def456", time.Now())
	if err := RecordAnalysis(tmpDir, analysis); err != nil {
		t.Fatalf("Failed to record analysis: %v", err)
	}

	retrieved, err := GetAnalysis(tmpDir, "abc123def456")
	if err != nil {
		t.Fatalf("Failed to get analysis: %v", err)
	}

	if retrieved.FinalBytes != analysis.FinalBytes {
		t.Errorf("Expected final bytes %d, got %d", analysis.FinalBytes, retrieved.FinalBytes)
	}
	if retrieved.Width != 1920 || retrieved.Height != 1080 {
		t.Errorf("Expected 1920x1080, got %dx%d", retrieved.Width, retrieved.Height)
	}
}

// TestRecordAnalysis_Upsert verifies that re-analyzing an image replaces its entry
func TestRecordAnalysis_Upsert(t *testing.T) {
	tmpDir := t.TempDir()

	analysis := testAnalysis("abc123def456", time.Now())
	if err := RecordAnalysis(tmpDir, analysis); err != nil {
		t.Fatalf("Failed to record analysis: %v", err)
	}

	analysis.ServerBytes = 777600
	analysis.FinalBytes = 777600
	analysis.FinalSource = "server"
	if err := RecordAnalysis(tmpDir, analysis); err != nil {
		t.Fatalf("Failed to update analysis: %v", err)
	}

	analyses, err := ListAnalyses(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list analyses: %v", err)
	}

	if len(analyses) != 1 {
		t.Errorf("Expected 1 analysis after re-record, got %d", len(analyses))
	}
	if analyses[0].FinalSource != "server" {
		t.Errorf("Expected updated source, got %s", analyses[0].FinalSource)
	}
}

// TestGetAnalysis_NotFound verifies error when analysis doesn't exist
func TestGetAnalysis_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := GetAnalysis(tmpDir, "doesnotexist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestGetAnalysis_Prefix verifies prefix lookups
func TestGetAnalysis_Prefix(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()

	for _, id := range []string{"aaaabbbb1111", "aaaabbbb2222", "ccccdddd3333"} {
		if err := RecordAnalysis(tmpDir, testAnalysis(id, now)); err != nil {
			t.Fatalf("Failed to record %s: %v", id, err)
		}
	}

	tests := []struct {
		name    string
		id      string
		wantID  string
		wantErr error
	}{
		{"exact", "aaaabbbb1111", "aaaabbbb1111", nil},
		{"unique prefix", "ccccdddd", "ccccdddd3333", nil},
		{"ambiguous prefix", "aaaabbbb", "", ErrAmbiguous},
		{"prefix too short", "cccc", "", ErrNotFound},
		{"no match", "eeeeffff", "", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetAnalysis(tmpDir, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("Expected %s, got %s", tt.wantID, got.ID)
			}
		})
	}
}

// TestListAnalyses_Empty verifies empty history returns empty list
func TestListAnalyses_Empty(t *testing.T) {
	analyses, err := ListAnalyses(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to list analyses: %v", err)
	}

	if len(analyses) != 0 {
		t.Errorf("Expected 0 analyses, got %d", len(analyses))
	}
}

// TestListAnalyses_NewestFirst verifies ordering
func TestListAnalyses_NewestFirst(t *testing.T) {
	tmpDir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"older0000", "newest000", "middle000"} {
		at := base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour)
		if err := RecordAnalysis(tmpDir, testAnalysis(id, at)); err != nil {
			t.Fatalf("Failed to record %s: %v", id, err)
		}
	}

	analyses, err := ListAnalyses(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list analyses: %v", err)
	}

	expected := []string{"newest000", "middle000", "older0000"}
	for i, id := range expected {
		if analyses[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, analyses[i].ID)
		}
	}
}

// TestDeleteAnalysis verifies deletion by prefix
func TestDeleteAnalysis(t *testing.T) {
	tmpDir := t.TempDir()

	if err := RecordAnalysis(tmpDir, testAnalysis("abc123def456", time.Now())); err != nil {
		t.Fatalf("Failed to record analysis: %v", err)
	}

	fullID, err := DeleteAnalysis(tmpDir, "abc123de")
	if err != nil {
		t.Fatalf("Failed to delete analysis: %v", err)
	}
	if fullID != "abc123def456" {
		t.Errorf("Expected full ID abc123def456, got %s", fullID)
	}

	if _, err := GetAnalysis(tmpDir, "abc123def456"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected analysis to be gone, got %v", err)
	}

	if _, err := DeleteAnalysis(tmpDir, "abc123def456"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

// TestRecordAnalysis_Concurrent verifies concurrent records don't lose entries
func TestRecordAnalysis_Concurrent(t *testing.T) {
	tmpDir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := RecordAnalysis(tmpDir, testAnalysis(fmt.Sprintf("id%08d", i), time.Now())); err != nil {
				t.Errorf("Failed to record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	analyses, err := ListAnalyses(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list analyses: %v", err)
	}
	if len(analyses) != 10 {
		t.Errorf("Expected 10 analyses, got %d", len(analyses))
	}
}

// TestLoadHistory_Corrupt verifies a broken file is reported
func TestLoadHistory_Corrupt(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "history.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := LoadHistory(tmpDir); err == nil {
		t.Error("Expected error for corrupt history")
	}
}

// Helper functions

func testAnalysis(id string, at time.Time) Analysis {
	return Analysis{
		ID:          id,
		Name:        "photo.png",
		Source:      "/tmp/photo.png",
		AnalyzedAt:  at,
		MimeType:    "image/png",
		Width:       1920,
		Height:      1080,
		SizeBytes:   2048000,
		ClientBytes: 660960,
		FinalBytes:  660960,
		FinalSource: "client",
	}
}
