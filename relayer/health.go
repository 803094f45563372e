package relayer

import (
	"context"
	"time"

	"brokerd/pkg/backoff"
	"brokerd/pkg/logger"
)

// HealthAttempts matches roughly two minutes of backoff.
const HealthAttempts = 24

// WaitForHealthy retries HealthCheck with exponential backoff until the
// relayer answers. It is the only relayer call the broker retries on its own.
func WaitForHealthy(ctx context.Context, r Relayer, log logger.Interface, wait func(int) time.Duration) error {
	attempt := 0
	return backoff.Retry(ctx, HealthAttempts, wait, func(ctx context.Context) error {
		attempt++
		err := r.HealthCheck(ctx)
		if err != nil {
			log.WarnContext(ctx, "relayer is not healthy yet",
				logger.NewField("attempt", attempt),
				logger.NewField("error", err.Error()),
			)
		}
		return err
	})
}
