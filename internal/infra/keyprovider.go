package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/safehold/shieldd/internal/domain"
)

const (
	keyFileName  = ".rulekey"
	ruleKeyBytes = 32 // 256-bit SQLCipher passphrase
)

// FileKeyProvider keeps the rule-database key as a hidden hex-encoded file
// inside the private data directory. The supervised user has no read access
// to that directory, so a local key is sufficient to keep the rule database
// tamper-resistant. Provisioning is lazy: the first access generates and
// persists a fresh key.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a key provider rooted in dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// RuleDBKey returns the stored key, generating and persisting one first if
// none exists yet. A present-but-corrupt key file is an error, never silently
// replaced: regenerating would orphan the existing encrypted database.
func (p *FileKeyProvider) RuleDBKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	switch {
	case err == nil:
		key, decErr := hex.DecodeString(strings.TrimSpace(string(encoded)))
		if decErr != nil || len(key) != ruleKeyBytes {
			return nil, fmt.Errorf("rule key file %s is corrupt", p.keyPath)
		}
		return key, nil
	case os.IsNotExist(err):
		return p.provision()
	default:
		return nil, fmt.Errorf("failed to read rule key: %w", err)
	}
}

func (p *FileKeyProvider) provision() ([]byte, error) {
	key := make([]byte, ruleKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate rule key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist rule key: %w", err)
	}
	return key, nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
