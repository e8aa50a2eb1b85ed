package bamboo

import (
	"context"
	"log/slog"
	"time"

	"github.com/eringen/bamboo/ssg"
)

// StartSyncScheduler runs a template sync immediately and then every
// interval until the returned stop function is called. Stop cancels a pass
// in flight and waits for it to return.
func StartSyncScheduler(f *ssg.Fetcher, interval time.Duration, logger *slog.Logger) func() {
	ticker := time.NewTicker(interval)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})

	run := func() {
		if _, err := f.Sync(ctx); err != nil {
			logger.Error("scheduled sync failed", "error", err)
		}
	}

	go func() {
		defer close(finished)
		run()
		for {
			select {
			case <-ticker.C:
				run()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		cancel()
		<-finished
	}
}
