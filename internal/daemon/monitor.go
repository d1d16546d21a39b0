package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
	"github.com/safehold/shieldd/internal/infra"
	"github.com/safehold/shieldd/internal/usecase"
)

// activationBudget bounds one monitor activation. The OS enforces its own
// execution budget; this local deadline just guarantees we log a terminal
// state before it does.
const activationBudget = 5 * time.Second

// RunMonitorActivation performs one background-monitor wake: run the
// liveness check, persist the requested next-wake interval, and return.
// It never returns an error for a degraded check - every internal failure
// already resolved to the conservative safety-net side inside the monitor.
func RunMonitorActivation(ctx context.Context, monitor *usecase.Monitor, flags *infra.PrefFlagStore, logger *zap.Logger) domain.ShieldAction {
	ctx, cancel := context.WithTimeout(ctx, activationBudget)
	defer cancel()

	done := make(chan usecase.CheckResult, 1)
	go func() {
		done <- monitor.CheckOnce(time.Now())
	}()

	var result usecase.CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		// Storage hung past the budget: report the conservative verdict.
		// The filter state is whatever the last completed write left, which
		// is the protective default.
		logger.Error("monitor activation timed out, treating as safety net")
		return domain.ActionApplySafetyNet
	}

	if err := flags.SetRequestedWakeInterval(result.NextWake); err != nil {
		logger.Warn("failed to persist next wake interval", zap.Error(err))
	}

	logger.Info("monitor activation complete",
		zap.String("action", string(result.Action)),
		zap.Duration("next_wake", result.NextWake),
		zap.Int("tokens_blocked", result.TokensBlocked))
	return result.Action
}
