package auth

import "time"

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// LockoutState is the slice of the identity record the policy reads and writes.
type LockoutState struct {
	FailedAttempts int
	LockUntil      *time.Time
}

// LockoutPolicy decides account lockout. It has no side effects; stores apply
// its decisions atomically.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

func NewLockoutPolicy(threshold int, duration time.Duration) LockoutPolicy {
	if threshold < 1 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{Threshold: threshold, Duration: duration}
}

func (p LockoutPolicy) IsLocked(s LockoutState, now time.Time) bool {
	return s.LockUntil != nil && s.LockUntil.After(now)
}

// RetryAfter is the time left on an active lock, zero otherwise.
func (p LockoutPolicy) RetryAfter(s LockoutState, now time.Time) time.Duration {
	if !p.IsLocked(s, now) {
		return 0
	}
	return s.LockUntil.Sub(now)
}

// OnFailure returns the state after a failed password check. An expired lock
// starts a fresh window at one attempt.
func (p LockoutPolicy) OnFailure(s LockoutState, now time.Time) LockoutState {
	if s.LockUntil != nil && !s.LockUntil.After(now) {
		return LockoutState{FailedAttempts: 1}
	}
	next := LockoutState{FailedAttempts: s.FailedAttempts + 1, LockUntil: s.LockUntil}
	if next.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockUntil = &until
	}
	return next
}

func (p LockoutPolicy) OnSuccess(LockoutState) LockoutState {
	return LockoutState{}
}
