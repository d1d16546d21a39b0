// Package usecase contains application business logic: rule evaluation,
// enforcement reconciliation and the background liveness check.
package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// EvaluationContext is everything the engine needs about the world right
// now: the clock, the latest debounced proximity state per beacon key, and
// current geofence membership per region ID.
type EvaluationContext struct {
	Now       time.Time
	Proximity map[string]domain.ProximityState
	Regions   map[string]bool
}

// Engine evaluates the active rule set against current context and
// produces the set of content tokens that must be blocked right now.
type Engine struct {
	rules  domain.RuleSource
	limits domain.LimitSource
	logger *zap.Logger
}

// NewEngine creates a rule engine. limits may be nil when no usage caps
// are configured.
func NewEngine(rules domain.RuleSource, limits domain.LimitSource, logger *zap.Logger) *Engine {
	return &Engine{rules: rules, limits: limits, logger: logger}
}

// Evaluate computes the desired blocked-set. The result is the union of
// tokens from every triggering rule and tokens whose daily limit is
// exhausted, deduplicated by token ID. A rule-storage failure yields an
// empty rule contribution (never an error to the caller): enforcement of
// exhausted limits must not stall because rules were momentarily unreadable.
func (e *Engine) Evaluate(ctx EvaluationContext) domain.ShieldDecision {
	seen := make(map[string]struct{})
	var blocked []domain.ContentToken

	add := func(token domain.ContentToken) {
		if _, dup := seen[token.ID]; dup {
			return
		}
		seen[token.ID] = struct{}{}
		blocked = append(blocked, token)
	}

	rules, err := e.rules.ActiveRules()
	if err != nil {
		e.logger.Warn("rule snapshot unavailable, evaluating limits only", zap.Error(err))
		rules = nil
	}

	for _, rule := range rules {
		// A rule with no tokens is inert regardless of trigger state.
		if len(rule.BlockedTokens) == 0 {
			continue
		}
		if !e.triggers(rule, ctx) {
			continue
		}
		e.logger.Debug("rule triggering",
			zap.String("rule", rule.ID),
			zap.String("name", rule.Name),
			zap.Int("tokens", len(rule.BlockedTokens)))
		for _, token := range rule.BlockedTokens {
			add(token)
		}
	}

	// Time-limit blocking is unioned in, never an override in either
	// direction.
	if e.limits != nil {
		for _, token := range e.limits.ExhaustedTokens(ctx.Now) {
			add(token)
		}
	}

	return domain.ShieldDecision{Tokens: blocked, Source: domain.SourceRuleEngine}
}

// triggers reports whether every non-empty condition group of the rule is
// satisfied. Empty groups are vacuously satisfied.
func (e *Engine) triggers(rule domain.Rule, ctx EvaluationContext) bool {
	if len(rule.TimeConditions) > 0 && !anyWindowContains(rule.TimeConditions, ctx.Now) {
		return false
	}

	for _, cond := range rule.BeaconConditions {
		state, ok := ctx.Proximity[cond.BeaconKey]
		if !ok {
			// A beacon never seen is Far, not an error and not a trigger.
			state = domain.ProximityFar
		}
		if state != cond.RequiredState {
			return false
		}
	}

	for _, cond := range rule.LocationConditions {
		inside := ctx.Regions[cond.RegionID]
		if inside != cond.RequiredInside {
			return false
		}
	}

	return true
}

func anyWindowContains(windows []domain.TimeWindow, now time.Time) bool {
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// NeedsTimeTick reports whether any active rule carries a time condition.
// When none does, the periodic time-boundary tick is disabled entirely to
// avoid idle wake overhead.
func (e *Engine) NeedsTimeTick() bool {
	rules, err := e.rules.ActiveRules()
	if err != nil {
		// Can't tell; keep ticking rather than miss a boundary crossing.
		return true
	}
	for _, rule := range rules {
		if rule.HasTimeConditions() {
			return true
		}
	}
	return false
}
