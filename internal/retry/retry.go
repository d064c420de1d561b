// Package retry runs an operation a bounded number of times with a fixed or
// stepped delay between attempts. Waiting honours context cancellation, so a
// torn-down caller never leaves a timer behind.
package retry

import (
	"context"
	"time"
)

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy describes how many attempts to make and how long to wait between
// them. When Backoff is set, the wait after attempt i is Backoff[i], with the
// last entry repeated; otherwise every wait is Delay.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Backoff  []time.Duration
	Wait     WaitFunc
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Op is one attempt. It returns done=true to stop early. A non-nil error
// also stops the loop and is returned to the caller.
type Op func(ctx context.Context, attempt int) (done bool, err error)

// Do runs op until it reports done, returns an error, or the attempt budget
// is spent. It reports the number of attempts made and whether op finished.
// No wait happens after the final attempt. If ctx is cancelled before or
// between attempts, Do returns ctx.Err().
func (p Policy) Do(ctx context.Context, op Op) (int, bool, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Wait
	if wait == nil {
		wait = Sleep
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, false, err
		}

		done, err := op(ctx, attempt)
		if err != nil {
			return attempt + 1, false, err
		}
		if done {
			return attempt + 1, true, nil
		}

		if attempt < attempts-1 {
			if err := wait(ctx, p.delayAfter(attempt)); err != nil {
				return attempt + 1, false, err
			}
		}
	}
	return attempts, false, nil
}

func (p Policy) delayAfter(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return p.Delay
	}
	if attempt < len(p.Backoff) {
		return p.Backoff[attempt]
	}
	return p.Backoff[len(p.Backoff)-1]
}
