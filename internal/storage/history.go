// Package storage persists capacity analyses in history.json inside the data directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MinPrefixLength is the shortest ID prefix accepted for lookups.
const MinPrefixLength = 8

var (
	// ErrNotFound is returned when no analysis matches an ID.
	ErrNotFound = errors.New("analysis not found")
	// ErrAmbiguous is returned when an ID prefix matches several analyses.
	ErrAmbiguous = errors.New("ambiguous analysis ID")
)

// historyMu serializes read-modify-write cycles from concurrent analyses.
var historyMu sync.Mutex

// RecordAnalysis adds an analysis, replacing any earlier one for the same image
func RecordAnalysis(dataDir string, analysis Analysis) error {
	historyMu.Lock()
	defer historyMu.Unlock()

	history, err := LoadHistory(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	for i, existing := range history.Analyses {
		if existing.ID == analysis.ID {
			history.Analyses[i] = analysis
			return SaveHistory(dataDir, history)
		}
	}

	history.Analyses = append(history.Analyses, analysis)
	return SaveHistory(dataDir, history)
}

// GetAnalysis retrieves an analysis by full ID or a unique prefix
func GetAnalysis(dataDir string, id string) (*Analysis, error) {
	history, err := LoadHistory(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	i, err := find(history, id)
	if err != nil {
		return nil, err
	}

	analysis := history.Analyses[i]
	return &analysis, nil
}

// ListAnalyses returns all analyses, newest first
func ListAnalyses(dataDir string) ([]Analysis, error) {
	history, err := LoadHistory(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	analyses := history.Analyses
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].AnalyzedAt.After(analyses[j].AnalyzedAt)
	})

	return analyses, nil
}

// DeleteAnalysis removes an analysis by full ID or unique prefix and returns its full ID
func DeleteAnalysis(dataDir string, id string) (string, error) {
	historyMu.Lock()
	defer historyMu.Unlock()

	history, err := LoadHistory(dataDir)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	i, err := find(history, id)
	if err != nil {
		return "", err
	}

	fullID := history.Analyses[i].ID
	history.Analyses = append(history.Analyses[:i], history.Analyses[i+1:]...)

	if err := SaveHistory(dataDir, history); err != nil {
		return "", fmt.Errorf("failed to save history: %w", err)
	}

	return fullID, nil
}

// find locates id exactly, or as a prefix of at least MinPrefixLength characters
func find(history *History, id string) (int, error) {
	for i, analysis := range history.Analyses {
		if analysis.ID == id {
			return i, nil
		}
	}

	if len(id) < MinPrefixLength {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	match := -1
	for i, analysis := range history.Analyses {
		if strings.HasPrefix(analysis.ID, id) {
			if match >= 0 {
				return -1, fmt.Errorf("%w: %s", ErrAmbiguous, id)
			}
			match = i
		}
	}

	if match < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// LoadHistory loads the history from disk
func LoadHistory(dataDir string) (*History, error) {
	historyPath := filepath.Join(dataDir, "history.json")

	data, err := os.ReadFile(historyPath)
	if errors.Is(err, os.ErrNotExist) {
		return &History{Analyses: []Analysis{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if history.Analyses == nil {
		history.Analyses = []Analysis{}
	}

	return &history, nil
}

// SaveHistory saves the history to disk
func SaveHistory(dataDir string, history *History) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	historyPath := filepath.Join(dataDir, "history.json")

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.WriteFile(historyPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}

	return nil
}
