package connection

import "sync"

// Subscription is the handle returned by listener registrations. Owners keep
// the handles they created and cancel them together when they shut down.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Cancel deregisters the listener. Safe to call more than once and on nil.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}
