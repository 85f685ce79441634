package websocket

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 15 * time.Minute
)

// Limit is a token bucket for one frame type.
type Limit struct {
	Rate  rate.Limit
	Burst int
}

// DefaultFrameLimits returns the per-type budgets applied to every user.
func DefaultFrameLimits() map[string]Limit {
	return map[string]Limit{
		FrameChat:  {Rate: 20, Burst: 20},
		FrameRead:  {Rate: 10, Burst: 10},
		FrameEnter: {Rate: 2, Burst: 5},
		FrameLeave: {Rate: 2, Burst: 5},
	}
}

type userLimiters struct {
	byType     map[string]*rate.Limiter
	lastAccess time.Time
}

// FrameLimiter rate limits socket frames per user and frame type. All
// connections of a user share one budget.
type FrameLimiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	users  map[string]*userLimiters
}

func NewFrameLimiter(limits map[string]Limit) *FrameLimiter {
	if limits == nil {
		limits = DefaultFrameLimits()
	}
	return &FrameLimiter{
		limits: limits,
		users:  make(map[string]*userLimiters),
	}
}

// Allow consumes one token for the user's frame type. Types without a
// configured limit are always allowed.
func (l *FrameLimiter) Allow(userID, frameType string) bool {
	limit, ok := l.limits[frameType]
	if !ok {
		return true
	}

	l.mu.Lock()
	entry, ok := l.users[userID]
	if !ok {
		entry = &userLimiters{byType: make(map[string]*rate.Limiter)}
		l.users[userID] = entry
	}
	entry.lastAccess = time.Now()
	limiter, ok := entry.byType[frameType]
	if !ok {
		limiter = rate.NewLimiter(limit.Rate, limit.Burst)
		entry.byType[frameType] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Run drops idle users until ctx is done.
func (l *FrameLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup(time.Now())
		}
	}
}

func (l *FrameLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for userID, entry := range l.users {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.users, userID)
		}
	}
}
