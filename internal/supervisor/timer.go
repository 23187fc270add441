package supervisor

import "time"

// timerSlot owns at most one active timer (I3: at most one active startwait,
// stopwait, backoff, or restart-poll timer per service). Firing is delivered
// through a generation check so that canceling a timer makes any in-flight
// fire a no-op even though *time.Timer.Stop() cannot guarantee that once the
// underlying goroutine has already fired (§5 "Cancellation and timeouts").
type timerSlot struct {
	timer *time.Timer
	gen   uint64
}

// arm replaces any pending timer in this slot and schedules fn to run on the
// controller's actor goroutine (via post) after d. fn is skipped if the slot
// was canceled or re-armed before the timer fired.
func (ts *timerSlot) arm(post func(func()), d time.Duration, fn func()) {
	if ts.timer != nil {
		ts.timer.Stop()
	}
	ts.gen++
	myGen := ts.gen
	ts.timer = time.AfterFunc(d, func() {
		post(func() {
			if ts.gen != myGen {
				return // superseded or canceled: no-op per §5
			}
			fn()
		})
	})
}

// cancel stops the pending timer, if any, and invalidates any in-flight fire.
func (ts *timerSlot) cancel() {
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
	ts.gen++
}

// active reports whether this slot currently owns a live timer.
func (ts *timerSlot) active() bool { return ts.timer != nil }
