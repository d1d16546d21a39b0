package infra

import (
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// FileSnapshotStore implements domain.SnapshotStore with two tiers: an
// atomic structured-file write in the shared container first, and the
// shared preference store as fallback when the container is unavailable.
// Every decode/IO error is swallowed here and treated as "data absent" -
// the background monitor must never crash over transient storage trouble.
type FileSnapshotStore struct {
	path   string
	prefs  *PrefStore
	logger *zap.Logger
}

// NewFileSnapshotStore creates a snapshot store rooted at path with the
// given preference store as the secondary tier.
func NewFileSnapshotStore(path string, prefs *PrefStore, logger *zap.Logger) *FileSnapshotStore {
	return &FileSnapshotStore{path: path, prefs: prefs, logger: logger}
}

// Save overwrites the snapshot wholesale. File first, prefs on any failure.
// Returns true if either tier accepted the write.
func (s *FileSnapshotStore) Save(snapshot *domain.ActiveRuleSnapshot) bool {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("snapshot encode failed", zap.Error(err))
		return false
	}

	err = atomicWriteFile(s.path, data, 0600)
	if err == nil {
		return true
	}
	s.logger.Warn("snapshot file write failed, falling back to preference store",
		zap.String("path", s.path), zap.Error(err))

	if err := s.prefs.SetRaw(prefKeySnapshot, snapshot); err != nil {
		s.logger.Warn("snapshot fallback write failed", zap.Error(err))
		return false
	}
	return true
}

// Load returns the newest valid snapshot from file, then prefs, else nil.
// Callers treat nil as "no authoritative data", not as an error.
func (s *FileSnapshotStore) Load() *domain.ActiveRuleSnapshot {
	if snap := s.loadFile(); snap.IsValid() {
		return snap
	}

	var snap domain.ActiveRuleSnapshot
	if s.prefs.GetRaw(prefKeySnapshot, &snap) && snap.IsValid() {
		return &snap
	}
	return nil
}

func (s *FileSnapshotStore) loadFile() *domain.ActiveRuleSnapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("snapshot file read failed", zap.Error(err))
		}
		return nil
	}
	var snap domain.ActiveRuleSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("snapshot file corrupt", zap.Error(err))
		return nil
	}
	return &snap
}

var _ domain.SnapshotStore = (*FileSnapshotStore)(nil)
