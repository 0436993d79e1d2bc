package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// IDRateLimitExceeded is the error id of rejected calls.
const IDRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// chatLimiter applies a token bucket per chat and evicts idle buckets.
type chatLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byChat map[uuid.UUID]*limiterEntry
	hits   uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newChatLimiter(rps float64, burst int, idleTTL time.Duration) *chatLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &chatLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byChat:  make(map[uuid.UUID]*limiterEntry),
	}
}

func (l *chatLimiter) allow(chat uuid.UUID, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byChat[chat]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byChat[chat] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byChat {
			if v.lastSeen.Before(cutoff) {
				delete(l.byChat, k)
			}
		}
	}
	return allowed
}

func (l *chatLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byChat)
}

// RateLimit applies a token bucket per chat. Rejected calls get a
// RATE_LIMIT_EXCEEDED error response without reaching next. A non-positive
// rps or burst disables limiting.
func RateLimit(rps float64, burst int, idleTTL time.Duration) Middleware {
	if rps <= 0 || burst <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	limiter := newChatLimiter(rps, burst, idleTTL)
	return rateLimit(limiter, time.Now)
}

func rateLimit(limiter *chatLimiter, now func() time.Time) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, sa *smartapp.SmartApp, a any) (message.Response, error) {
			var chat uuid.UUID
			if sa != nil {
				chat = sa.ChatID
			}
			if !limiter.allow(chat, now()) {
				return message.NewError(message.NewErrorDetail(
					"Rate limit exceeded", IDRateLimitExceeded,
					map[string]any{"chat_id": chat.String()},
				)), nil
			}
			return next(ctx, sa, a)
		}
	}
}
