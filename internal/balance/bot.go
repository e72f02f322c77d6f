package balance

import (
	"context"
	"errors"
	"time"

	"dx-bots/internal/lock"
	"dx-bots/internal/scheduler"

	"go.uber.org/zap"
)

// Job runs the monitor once at start and then every interval. The whole
// sweep is one action, so overlapping ticks join the running check.
func Job(mon *Monitor, interval time.Duration, log *zap.Logger) scheduler.Job[string, Report] {
	if log == nil {
		log = zap.NewNop()
	}
	return scheduler.Job[string, Report]{
		Name:      "balance-check",
		Interval:  interval,
		Immediate: true,
		Scopes:    func() []string { return []string{ActionName} },
		Key:       func(key string) string { return key },
		Run:       func(ctx context.Context, _ string) (Report, error) { return mon.Check(ctx) },
		Report: func(_ string, out lock.Outcome[Report]) {
			switch {
			case out.Joined:
				log.Debug("balance check already running")
			case errors.Is(out.Err, lock.ErrPanic):
				log.Error("balance check aborted", zap.Error(out.Err))
			case out.Err != nil:
				log.Warn("balance check incomplete", zap.Int("groups", len(out.Value.Groups)), zap.Error(out.Err))
			default:
				log.Info("balance check done", zap.Int("groups", len(out.Value.Groups)))
			}
		},
	}
}
