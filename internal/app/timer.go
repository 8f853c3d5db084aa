package app

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// revealTimer is the single answer-window timer of a machine. Each arm gets a
// new generation so a late firing from a replaced timer is recognised and ignored.
type revealTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
	stop  chan struct{}
	gen   uint64
}

// arm starts a timer that calls fire(gen) after d. Any previous timer is disarmed.
func (t *revealTimer) arm(d time.Duration, fire func(gen uint64)) uint64 {
	t.disarm()
	t.gen++
	gen := t.gen
	timer := t.clock.NewTimer(d)
	stop := make(chan struct{})
	t.timer = timer
	t.stop = stop
	go func() {
		select {
		case <-timer.Chan():
			fire(gen)
		case <-stop:
		}
	}()
	return gen
}

// disarm stops the current timer, if any, and releases its goroutine.
func (t *revealTimer) disarm() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.Chan():
		default:
		}
	}
	close(t.stop)
	t.timer = nil
	t.stop = nil
}

func (t *revealTimer) current(gen uint64) bool {
	return t.timer != nil && t.gen == gen
}
