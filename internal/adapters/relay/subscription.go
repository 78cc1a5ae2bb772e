package relay

import (
	"sync"

	"github.com/okian/askbot/internal/domain/model"
)

// Subscription is an ad-hoc REQ owned by one caller. Events matching the
// filter arrive on Events until the subscription is closed, either by the
// caller, by its context ending, or by the connection dropping.
type Subscription struct {
	ID     string
	Filter model.Filter

	events    chan model.Event
	eose      chan struct{}
	eoseOnce  sync.Once
	closeOnce sync.Once
	stop      func() bool
	m         *Manager
}

// Events delivers events for this subscription. It is closed on release.
func (s *Subscription) Events() <-chan model.Event { return s.events }

// EOSE is closed once the relay signals end of stored events.
func (s *Subscription) EOSE() <-chan struct{} { return s.eose }

// Close releases the subscription and tells the relay to stop it.
// It is safe to call more than once.
func (s *Subscription) Close() {
	s.m.release(s, true)
}

func (s *Subscription) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}
