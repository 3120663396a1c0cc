package syncjob

import (
	"context"
	"sync"
	"time"
)

// Activity records when the database was last used by a foreground query.
// The sync job waits for quiet periods so it does not compete with users
// for the cluster or the cache file.
type Activity struct {
	mu      sync.Mutex
	last    time.Time
	changed chan struct{}
	now     func() time.Time
}

// NewActivity creates an activity clock that counts its own creation as
// activity, so the first idle window starts when the database is opened.
func NewActivity() *Activity {
	return newActivity(time.Now)
}

func newActivity(now func() time.Time) *Activity {
	return &Activity{
		last:    now(),
		changed: make(chan struct{}),
		now:     now,
	}
}

// Touch records foreground activity now and wakes waiters.
func (a *Activity) Touch() {
	a.mu.Lock()
	a.last = a.now()
	close(a.changed)
	a.changed = make(chan struct{})
	a.mu.Unlock()
}

// Last returns the time of the last activity.
func (a *Activity) Last() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// WaitIdle returns once no activity has been recorded for window. Each wait
// lasts at most slice when slice is positive. It returns ctx.Err() when ctx
// is done first.
func (a *Activity) WaitIdle(ctx context.Context, window, slice time.Duration) error {
	for {
		a.mu.Lock()
		last, changed := a.last, a.changed
		a.mu.Unlock()

		remaining := window - a.now().Sub(last)
		if last.IsZero() || remaining <= 0 {
			return ctx.Err()
		}
		if slice > 0 && remaining > slice {
			remaining = slice
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}
