package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

const rulesDBName = "rules.db"

// EncryptedRuleStore implements domain.RuleStore on a SQLCipher database.
// Rules are stored as JSON documents keyed by ID so condition groups can
// evolve without schema migrations; the active flag is a column so the
// engine's snapshot query stays an index scan.
//
// Change notifications combine in-process signals (local mutations) with an
// fsnotify watch on the database file, which catches edits made by the
// companion UI process.
type EncryptedRuleStore struct {
	db      *sql.DB
	dbPath  string
	changes chan struct{}
	logger  *zap.Logger
}

// NewEncryptedRuleStore opens (or creates) the encrypted rule database in
// dataDir, obtaining the SQLCipher passphrase from the key provider. A fresh
// data directory gets a fresh key on the way in.
func NewEncryptedRuleStore(dataDir string, keys domain.KeyProvider, logger *zap.Logger) (*EncryptedRuleStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	key, err := keys.RuleDBKey()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain rule key: %w", err)
	}

	dbPath := filepath.Join(dataDir, rulesDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedRuleStore{
		db:      db,
		dbPath:  dbPath,
		changes: make(chan struct{}, 1),
		logger:  logger,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedRuleStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		doc TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Changes delivers a signal whenever the rule set mutates. The channel is
// buffered with depth one: coalesced signals are fine, the consumer always
// re-reads the full snapshot.
func (s *EncryptedRuleStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *EncryptedRuleStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// WatchExternal watches the database file for writes by other processes
// and funnels them into the same change channel. Blocks until ctx is done.
func (s *EncryptedRuleStore) WatchExternal(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.dbPath)); err != nil {
		return fmt.Errorf("failed to watch rule database directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != s.dbPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.logger.Debug("rule database changed on disk")
				s.notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("rule database watch error", zap.Error(err))
		}
	}
}

// All returns every stored rule.
func (s *EncryptedRuleStore) All() ([]domain.Rule, error) {
	return s.query(`SELECT doc FROM rules ORDER BY name`)
}

// ActiveRules returns rules whose active flag is set.
func (s *EncryptedRuleStore) ActiveRules() ([]domain.Rule, error) {
	return s.query(`SELECT doc FROM rules WHERE active = 1 ORDER BY name`)
}

func (s *EncryptedRuleStore) query(q string, args ...any) ([]domain.Rule, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rule domain.Rule
		if err := json.Unmarshal([]byte(doc), &rule); err != nil {
			// One corrupt row must not hide the rest of the rule set.
			s.logger.Warn("skipping undecodable rule row", zap.Error(err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Get returns the rule with the given ID, or nil if absent.
func (s *EncryptedRuleStore) Get(id string) (*domain.Rule, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM rules WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rule domain.Rule
	if err := json.Unmarshal([]byte(doc), &rule); err != nil {
		return nil, fmt.Errorf("rule %s undecodable: %w", id, err)
	}
	return &rule, nil
}

// Put inserts or replaces a rule. A missing ID is assigned on the way in.
func (s *EncryptedRuleStore) Put(rule domain.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	doc, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	active := 0
	if rule.Active {
		active = 1
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO rules (id, name, active, doc, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, active, string(doc), time.Now().Unix())
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// SetActive flips a rule's active flag.
func (s *EncryptedRuleStore) SetActive(id string, active bool) error {
	rule, err := s.Get(id)
	if err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("rule %s not found", id)
	}
	rule.Active = active
	return s.Put(*rule)
}

// Delete removes a rule.
func (s *EncryptedRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	s.notify()
	return nil
}

// Close releases the database handle.
func (s *EncryptedRuleStore) Close() error {
	return s.db.Close()
}

// DBPath returns the database file path (for tests and diagnostics).
func (s *EncryptedRuleStore) DBPath() string {
	return s.dbPath
}

var _ domain.RuleStore = (*EncryptedRuleStore)(nil)
