package infra

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// limitDocument is the persisted shape of the daily limit tracker.
type limitDocument struct {
	Date   string                         `json:"date"` // "2006-01-02", usage resets when it rolls
	Caps   map[string]int                 `json:"caps"` // token ID -> daily cap, minutes
	Usage  map[string]int                 `json:"usage"`
	Tokens map[string]domain.ContentToken `json:"tokens"`
}

// DailyLimitStore tracks per-token daily usage against configured caps and
// implements domain.LimitSource. Usage is reported by the platform's usage
// monitor through RecordUsage; this store only does the accounting.
// Exhausted tokens feed the engine's precedence union: limit blocking is
// unioned with rule blocking, never subtracted.
type DailyLimitStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewDailyLimitStore creates a limit store persisted at path.
func NewDailyLimitStore(path string, logger *zap.Logger) *DailyLimitStore {
	return &DailyLimitStore{path: path, logger: logger}
}

func (s *DailyLimitStore) load(now time.Time) *limitDocument {
	doc := &limitDocument{
		Caps:   map[string]int{},
		Usage:  map[string]int{},
		Tokens: map[string]domain.ContentToken{},
	}
	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(data, doc); err != nil {
			s.logger.Warn("limit document corrupt, starting fresh", zap.Error(err))
		}
	}
	if doc.Caps == nil {
		doc.Caps = map[string]int{}
	}
	if doc.Tokens == nil {
		doc.Tokens = map[string]domain.ContentToken{}
	}
	// Daily reset: usage clears when the calendar date rolls, caps persist.
	today := now.Format("2006-01-02")
	if doc.Date != today {
		doc.Date = today
		doc.Usage = map[string]int{}
	}
	if doc.Usage == nil {
		doc.Usage = map[string]int{}
	}
	return doc
}

func (s *DailyLimitStore) save(doc *limitDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return atomicWriteFile(s.path, data, 0600)
}

// SetCap records a daily cap in minutes for a token. A cap of zero removes
// the limit.
func (s *DailyLimitStore) SetCap(token domain.ContentToken, minutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(time.Now())
	if minutes <= 0 {
		delete(doc.Caps, token.ID)
		delete(doc.Tokens, token.ID)
	} else {
		doc.Caps[token.ID] = minutes
		doc.Tokens[token.ID] = token
	}
	return s.save(doc)
}

// RecordUsage adds observed usage minutes for a token at the given time.
func (s *DailyLimitStore) RecordUsage(tokenID string, minutes int, now time.Time) error {
	if minutes <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(now)
	doc.Usage[tokenID] += minutes
	return s.save(doc)
}

// ExhaustedTokens returns tokens whose usage today has reached their cap.
func (s *DailyLimitStore) ExhaustedTokens(now time.Time) []domain.ContentToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(now)
	var exhausted []domain.ContentToken
	for id, capMinutes := range doc.Caps {
		if doc.Usage[id] >= capMinutes {
			if token, ok := doc.Tokens[id]; ok {
				exhausted = append(exhausted, token)
			}
		}
	}
	return exhausted
}

var _ domain.LimitSource = (*DailyLimitStore)(nil)
