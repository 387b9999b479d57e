package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"harvester/pkg/models"
)

// Snapshot is a point-in-time export of all checkpoints
type Snapshot struct {
	TakenAt     time.Time            `json:"taken_at"`
	Checkpoints []*models.Checkpoint `json:"checkpoints"`
}

// WriteSnapshot saves checkpoints to path atomically
func WriteSnapshot(path string, cps []*models.Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(Snapshot{TakenAt: time.Now().UTC(), Checkpoints: cps}); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync snapshot file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot. A missing file
// yields nil, nil.
func ReadSnapshot(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	var snap Snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
