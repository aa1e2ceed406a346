package backoff

import (
	"fmt"
	"math/rand/v2"
	"time"
)

type Options struct {
	// Must be positive. Zero means default.
	Min time.Duration
	// Must be positive. Zero means default.
	Max time.Duration
	// Must be >= 1.0. Zero means default.
	Grow float64
	// Must be >= 1.0. Zero means default.
	Jitter float64
	// Time without failures after which the wait time resets to Min. Zero
	// means default.
	ResetAfter time.Duration
}

func (o *Options) Validate() error {
	if o.Min < 0 {
		return fmt.Errorf("negative min")
	}
	if o.Max < 0 {
		return fmt.Errorf("negative max")
	}
	if o.Grow < 1.0 && o.Grow != 0.0 {
		return fmt.Errorf("grow < 1.0")
	}
	if o.Jitter < 1.0 && o.Jitter != 0.0 {
		return fmt.Errorf("jitter < 1.0")
	}
	if o.ResetAfter < 0 {
		return fmt.Errorf("negative reset-after")
	}
	return nil
}

func (o *Options) FillDefaults() {
	if o.Min == 0 {
		o.Min = time.Second
	}
	if o.Max == 0 {
		o.Max = time.Hour
	}
	if o.Grow == 0.0 {
		o.Grow = 2.0
	}
	if o.Jitter == 0.0 {
		o.Jitter = 1.5
	}
	if o.ResetAfter == 0 {
		o.ResetAfter = 24 * time.Hour
	}
}

// Backoff tracks the wait time between retries of a recurring operation. The
// wait time grows exponentially on consecutive failures and resets back to
// the minimum after Options.ResetAfter elapses without a failure.
type Backoff struct {
	o        Options
	cur      time.Duration
	lastFail time.Time
}

func New(o Options) (*Backoff, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("bad config: %w", err)
	}
	o.FillDefaults()
	b := &Backoff{o: o}
	b.Reset()
	return b, nil
}

func (b *Backoff) Reset() {
	b.cur = b.o.Min
	b.lastFail = time.Time{}
}

// Next registers a failure and returns how long to wait before retrying.
func (b *Backoff) Next() time.Duration {
	now := time.Now()
	if !b.lastFail.IsZero() && now.Sub(b.lastFail) >= b.o.ResetAfter {
		b.cur = b.o.Min
	}
	b.lastFail = now
	flMax := float64(b.o.Max.Nanoseconds())
	newTime := min(flMax, float64(b.cur.Nanoseconds())*b.o.Grow)
	jitter := 1.0 + rand.Float64()*(b.o.Jitter-1.0)
	waitTime := min(flMax, newTime*jitter)
	b.cur = time.Duration(int64(newTime))
	return time.Duration(int64(waitTime))
}
