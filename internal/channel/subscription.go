package channel

import "sync/atomic"

// Subscription is the handle returned by On.
type Subscription struct {
	event     string
	handler   Handler
	m         *Messenger
	cancelled atomic.Bool
}

// Event returns the subscribed event name.
func (s *Subscription) Event() string { return s.event }

// Cancel stops further deliveries to this handler. Other handlers of the same
// event are unaffected. Calling Cancel more than once is a no-op.
func (s *Subscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.m.removeSubscription(s)
}

// Cancelled reports whether Cancel was called.
func (s *Subscription) Cancelled() bool { return s.cancelled.Load() }
