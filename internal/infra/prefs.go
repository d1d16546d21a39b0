// Package infra implements infrastructure concerns (shared storage,
// encrypted rule persistence, process liveness, the content filter bridge).
package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Well-known keys inside the shared preference store.
const (
	prefKeySnapshot  = "active_rule_snapshot"
	prefKeyHeartbeat = "primary_heartbeat_unix"
	prefKeySafetyNet = "safety_net_active"
	prefKeyNextWake  = "monitor_next_wake_sec"
	prefKeyPID       = "primary_pid"
)

// PrefStore is the simple key-value fallback medium shared between the
// primary process and its extensions: a single flat JSON document. It
// stands in for the platform's shared preference store and is accepted as
// best-effort (writes are atomic but the document is small and replaced
// wholesale).
type PrefStore struct {
	path string
}

// NewPrefStore creates a preference store backed by the given file path.
func NewPrefStore(path string) *PrefStore {
	return &PrefStore{path: path}
}

func (p *PrefStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		// Corrupt document: treat as empty rather than failing forever.
		return map[string]json.RawMessage{}, nil
	}
	return doc, nil
}

func (p *PrefStore) write(doc map[string]json.RawMessage) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return atomicWriteFile(p.path, data, 0600)
}

// SetRaw stores a value under key, replacing any previous value.
func (p *PrefStore) SetRaw(key string, value any) error {
	doc, err := p.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	doc[key] = raw
	return p.write(doc)
}

// GetRaw decodes the value under key into out. Returns false if the key is
// absent or undecodable.
func (p *PrefStore) GetRaw(key string, out any) bool {
	doc, err := p.read()
	if err != nil {
		return false
	}
	raw, ok := doc[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// SetTime stores a timestamp as unix seconds.
func (p *PrefStore) SetTime(key string, t time.Time) error {
	return p.SetRaw(key, t.Unix())
}

// GetTime reads a unix-seconds timestamp. Zero time if absent or <= 0.
func (p *PrefStore) GetTime(key string) (time.Time, bool) {
	var unix int64
	if !p.GetRaw(key, &unix) || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

// Delete removes a key. Missing keys are not an error.
func (p *PrefStore) Delete(key string) error {
	doc, err := p.read()
	if err != nil {
		return err
	}
	delete(doc, key)
	return p.write(doc)
}

// atomicWriteFile writes via temp file + rename so readers in other
// processes never observe a partial document.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	// Unique per process to avoid races between writers of different files.
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
