package session

import (
	"sync"
	"time"
)

// watchdog hangs up a call after a stretch of silence. Speech disarms it,
// the end of an utterance re-arms it, and transcript activity pushes an armed
// deadline back.
type watchdog struct {
	timeout time.Duration
	onIdle  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newWatchdog(timeout time.Duration, onIdle func()) *watchdog {
	if timeout <= 0 {
		return nil
	}
	return &watchdog{timeout: timeout, onIdle: onIdle}
}

func (w *watchdog) speech() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *watchdog) silence() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.arm()
}

func (w *watchdog) activity() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.timer == nil {
		return
	}
	w.arm()
}

// arm restarts the timer. w.mu must be held.
func (w *watchdog) arm() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		fire := !w.stopped
		w.timer = nil
		w.mu.Unlock()

		if fire && w.onIdle != nil {
			w.onIdle()
		}
	})
}

func (w *watchdog) stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
