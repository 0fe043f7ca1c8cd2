package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relaycast/gocast/discovery"
)

const (
	defaultRetryWait = 5 * time.Second
	maxRetryWait     = 300 * time.Second
)

// serviceBackoff tracks the next-retry deadline for one service endpoint,
// doubling the delay on every failure up to maxRetryWait, per §4.7's
// "delay starts at retry_wait, doubles each failure up to 300s".
type serviceBackoff struct {
	b          *backoff.ExponentialBackOff
	nextRetry  time.Time
}

func newServiceBackoff(retryWait time.Duration) *serviceBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryWait
	b.Multiplier = 2
	b.RandomizationFactor = 0 // exact doubling; jitter would let a delay exceed maxRetryWait
	b.MaxInterval = maxRetryWait
	b.MaxElapsedTime = 0 // unbounded: tries=nil means retry forever
	b.Reset()
	return &serviceBackoff{b: b}
}

// ready reports whether this service's retry deadline has passed.
func (s *serviceBackoff) ready(now time.Time) bool {
	return !now.Before(s.nextRetry)
}

// failed schedules the next retry attempt after the current backoff
// interval, then advances the backoff state.
func (s *serviceBackoff) failed(now time.Time) {
	s.nextRetry = now.Add(s.b.NextBackOff())
}

// succeeded resets the backoff so the next failure starts at retryWait
// again rather than continuing to grow.
func (s *serviceBackoff) succeeded() {
	s.b.Reset()
	s.nextRetry = time.Time{}
}

// backoffTable holds one serviceBackoff per known service key, created on
// first use.
type backoffTable struct {
	retryWait time.Duration
	entries   map[string]*serviceBackoff
}

func newBackoffTable(retryWait time.Duration) *backoffTable {
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}
	return &backoffTable{retryWait: retryWait, entries: make(map[string]*serviceBackoff)}
}

func (t *backoffTable) get(svc discovery.Service) *serviceBackoff {
	key := svc.String()
	sb, ok := t.entries[key]
	if !ok {
		sb = newServiceBackoff(t.retryWait)
		t.entries[key] = sb
	}
	return sb
}
