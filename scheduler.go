package voltacq

import (
	"sync"
	"time"
)

// RepeatingTask calls a function at a fixed interval on its own goroutine. The next call is
// armed only after the previous one returns, so calls never overlap and a slow call delays
// the schedule rather than piling up. The task ends when the function returns false or
// when Cancel is called.
type RepeatingTask struct {
	interval time.Duration
	fn       func() bool
	cancel   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Every starts a RepeatingTask whose first call comes one interval from now.
func Every(interval time.Duration, fn func() bool) *RepeatingTask {
	rt := &RepeatingTask{
		interval: interval,
		fn:       fn,
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rt.run()
	return rt
}

func (rt *RepeatingTask) run() {
	defer close(rt.done)
	timer := time.NewTimer(rt.interval)
	defer timer.Stop()
	for {
		select {
		case <-rt.cancel:
			return
		case <-timer.C:
			if !rt.fn() {
				return
			}
			timer.Reset(rt.interval)
		}
	}
}

// Cancel stops re-arming. A call already in progress completes first. Safe to call twice.
func (rt *RepeatingTask) Cancel() {
	rt.once.Do(func() { close(rt.cancel) })
}

// Done is closed once the task will make no more calls.
func (rt *RepeatingTask) Done() <-chan struct{} {
	return rt.done
}
