package bamboo

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/bamboo/ssg"
)

type countingLister struct {
	calls atomic.Int32
}

func (l *countingLister) ListSites(context.Context) ([]ssg.Site, error) {
	l.calls.Add(1)
	return nil, nil
}

func TestSyncSchedulerRunsImmediatelyAndOnTick(t *testing.T) {
	templates, err := ssg.NewTemplateStore(t.TempDir())
	require.NoError(t, err)
	lister := &countingLister{}
	fetcher := ssg.NewFetcher(templates, lister)

	stop := StartSyncScheduler(fetcher, 20*time.Millisecond, slog.New(slog.DiscardHandler))
	require.Eventually(t, func() bool { return lister.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	after := lister.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, lister.calls.Load(), "no passes after stop")
}
