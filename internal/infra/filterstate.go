package infra

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// AppliedFilterState is the last restriction state written to the platform
// content filter. It is the idempotence record and the status data source.
type AppliedFilterState struct {
	Applications       []string  `json:"applications"`
	WebDomains         []string  `json:"webDomains"`
	ActivityCategories []string  `json:"activityCategories"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// IsClear reports whether no restriction is in effect.
func (s AppliedFilterState) IsClear() bool {
	return len(s.Applications) == 0 && len(s.WebDomains) == 0 && len(s.ActivityCategories) == 0
}

// FileContentFilter implements domain.ContentFilter by persisting the
// complete desired state to a JSON file that the platform bridge consumes.
// Every call sets all three kind-slots explicitly: an empty set clears that
// kind, nothing is ever left "previously set" by omission. That total
// overwrite is what makes repeated identical calls idempotent.
type FileContentFilter struct {
	path   string
	logger *zap.Logger
}

// NewFileContentFilter creates a filter writing its state to path.
func NewFileContentFilter(path string, logger *zap.Logger) *FileContentFilter {
	return &FileContentFilter{path: path, logger: logger}
}

// SetCompleteBlockingState replaces the restriction state wholesale.
func (f *FileContentFilter) SetCompleteBlockingState(applications, webDomains, activityCategories []string) error {
	state := AppliedFilterState{
		Applications:       sortedCopy(applications),
		WebDomains:         sortedCopy(webDomains),
		ActivityCategories: sortedCopy(activityCategories),
		UpdatedAt:          time.Now(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(f.path, data, 0600); err != nil {
		return err
	}
	f.logger.Info("content filter state applied",
		zap.Int("applications", len(state.Applications)),
		zap.Int("web_domains", len(state.WebDomains)),
		zap.Int("activity_categories", len(state.ActivityCategories)))
	return nil
}

// Current returns the last applied state, or nil if nothing was ever applied.
func (f *FileContentFilter) Current() (*AppliedFilterState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state AppliedFilterState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// sortedCopy normalizes a slot so identical desired states serialize
// identically regardless of input order. Never returns nil: an empty slot
// must serialize as an explicit empty set.
func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

var _ domain.ContentFilter = (*FileContentFilter)(nil)
