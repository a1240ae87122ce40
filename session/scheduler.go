package session

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// expiryScheduler holds the single proactive-renewal timer. Arming replaces
// any previous timer, so exactly one renewal is ever scheduled regardless
// of how many token sets have been committed.
type expiryScheduler struct {
	nowTime      func() time.Time
	safetyMargin time.Duration
	onExpiry     func()

	lock  sync.Mutex
	timer *time.Timer
}

func newExpiryScheduler(nowTime func() time.Time, safetyMargin time.Duration, onExpiry func()) *expiryScheduler {
	return &expiryScheduler{
		nowTime:      nowTime,
		safetyMargin: safetyMargin,
		onExpiry:     onExpiry,
	}
}

// arm schedules the renewal callback for safetyMargin before the token's
// computed expiry. Tokens without a usable lifetime cancel any pending
// timer and schedule nothing. A fire time already further in the past than
// now also schedules nothing; a zero or positive delay fires.
func (s *expiryScheduler) arm(tokens *oauthmodel.AuthTokens) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.stopLocked()

	if tokens == nil {
		return
	}
	expiresAt := tokens.ExpiresAt()
	if expiresAt.IsZero() {
		return
	}

	delay := expiresAt.Add(-s.safetyMargin).Sub(s.nowTime())
	if delay < 0 {
		return
	}
	s.timer = time.AfterFunc(delay, s.onExpiry)
}

// cancel stops any pending renewal.
func (s *expiryScheduler) cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.stopLocked()
}

func (s *expiryScheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
