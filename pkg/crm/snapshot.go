package crm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// snapshotData is the JSON structure written by Snapshotter.
type snapshotData struct {
	Version   int       `json:"version"`
	UpdatedAt string    `json:"updated_at"`
	Bookings  []Booking `json:"bookings"`
}

const snapshotVersion = 1

// Snapshotter writes every store snapshot to a JSON file for inspection.
type Snapshotter struct {
	path   string
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter writing to path.
func NewSnapshotter(path string, logger *slog.Logger) (*Snapshotter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Snapshotter{path: path, logger: logger.With("component", "crm_snapshot")}, nil
}

// Attach writes the current contents of store and subscribes to changes.
func (s *Snapshotter) Attach(store *Store) (unsubscribe func(), err error) {
	if err := s.Write(store.List()); err != nil {
		return nil, err
	}
	return store.Subscribe(func(snapshot []Booking) {
		if err := s.Write(snapshot); err != nil {
			s.logger.Error("failed to write snapshot", "path", s.path, "error", err)
		}
	}), nil
}

// Write stores bookings at the snapshot path.
func (s *Snapshotter) Write(bookings []Booking) error {
	data, err := json.MarshalIndent(snapshotData{
		Version:   snapshotVersion,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Bookings:  bookings,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temp file first, then rename
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads a snapshot file written by Write, for use as seed data.
func Load(path string) ([]Booking, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var stored snapshotData
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return stored.Bookings, nil
}
