package usecase

import (
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// Per-kind payload envelopes. A token's payload is only attempted against
// the decoder matching its declared kind; a mismatched kind+payload pair
// yields no result and the token is dropped, never an error.
type applicationPayload struct {
	BundleID string `json:"bundleId"`
}

type webDomainPayload struct {
	Domain string `json:"domain"`
}

type activityCategoryPayload struct {
	Category string `json:"category"`
}

// Reconciler applies a desired blocked-set to the content filter
// idempotently, splitting opaque tokens into the three kind-sets the
// filter expects. Undecodable tokens are skipped individually; the count
// is observable for diagnostics but never blocks sibling tokens.
type Reconciler struct {
	filter  domain.ContentFilter
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewReconciler creates a reconciler over the given content filter.
func NewReconciler(filter domain.ContentFilter, logger *zap.Logger) *Reconciler {
	return &Reconciler{filter: filter, logger: logger}
}

// ApplyBlocking decodes each token by its declared kind and writes the
// complete three-set restriction state.
func (r *Reconciler) ApplyBlocking(tokens []domain.ContentToken) error {
	// All three slots are always materialized; an empty slot means "clear
	// that kind", never "leave unchanged".
	applications := []string{}
	webDomains := []string{}
	categories := []string{}

	for _, token := range tokens {
		value, ok := decodeToken(token)
		if !ok {
			r.dropped.Add(1)
			r.logger.Warn("dropping undecodable content token",
				zap.String("token_id", token.ID),
				zap.String("kind", string(token.Kind)))
			continue
		}
		switch token.Kind {
		case domain.KindApplication:
			applications = append(applications, value)
		case domain.KindWebDomain:
			webDomains = append(webDomains, value)
		case domain.KindActivityCategory:
			categories = append(categories, value)
		}
	}

	return r.SetCompleteBlockingState(applications, webDomains, categories)
}

// SetCompleteBlockingState writes all three kind-slots explicitly. Safe to
// call on every evaluation tick: identical arguments produce the identical
// effective state, nothing stale accumulates.
func (r *Reconciler) SetCompleteBlockingState(applications, webDomains, activityCategories []string) error {
	return r.filter.SetCompleteBlockingState(applications, webDomains, activityCategories)
}

// ClearAllBlocking removes every restriction.
func (r *Reconciler) ClearAllBlocking() error {
	return r.SetCompleteBlockingState(nil, nil, nil)
}

// DroppedTokenCount returns how many tokens were skipped as undecodable
// since this reconciler was created.
func (r *Reconciler) DroppedTokenCount() int64 {
	return r.dropped.Load()
}

// decodeToken attempts the payload against the decoder for the token's
// declared kind. The switch over ContentKind is exhaustive; a kind outside
// the enum decodes to nothing.
func decodeToken(token domain.ContentToken) (string, bool) {
	switch token.Kind {
	case domain.KindApplication:
		var p applicationPayload
		if json.Unmarshal(token.Payload, &p) != nil || p.BundleID == "" {
			return "", false
		}
		return p.BundleID, true

	case domain.KindWebDomain:
		var p webDomainPayload
		if json.Unmarshal(token.Payload, &p) != nil || p.Domain == "" {
			return "", false
		}
		return p.Domain, true

	case domain.KindActivityCategory:
		var p activityCategoryPayload
		if json.Unmarshal(token.Payload, &p) != nil || p.Category == "" {
			return "", false
		}
		return p.Category, true

	default:
		return "", false
	}
}
