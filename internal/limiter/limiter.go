// Package limiter tracks failed authentication attempts per client IP
// and issues temporary bans when a window fills up.
package limiter

import (
	"sync"
	"time"

	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// AuthLimiter counts authentication failures in a sliding window. When
// an IP crosses the limit it is banned for the configured duration.
type AuthLimiter struct {
	clk    clock.Clock
	window time.Duration
	limit  int
	banFor time.Duration
	log    *zap.Logger

	mu       sync.Mutex
	failures map[string][]time.Time
	bans     map[string]time.Time
}

// NewAuthLimiter builds a limiter; the clock is injected so the window
// and ban expiry are testable.
func NewAuthLimiter(clk clock.Clock, window time.Duration, limit int, banFor time.Duration) *AuthLimiter {
	return &AuthLimiter{
		clk:      clk,
		window:   window,
		limit:    limit,
		banFor:   banFor,
		log:      logger.New("auth_limiter"),
		failures: make(map[string][]time.Time),
		bans:     make(map[string]time.Time),
	}
}

// Banned reports whether an IP is currently banned. Expired bans are
// pruned on the way through.
func (l *AuthLimiter) Banned(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.bans[ip]
	if !ok {
		return false
	}
	if l.clk.Now().After(expiry) {
		delete(l.bans, ip)
		delete(l.failures, ip)
		return false
	}
	return true
}

// RecordFailure registers one failed attempt and returns true when the
// IP has just been banned.
func (l *AuthLimiter) RecordFailure(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	cutoff := now.Add(-l.window)

	recent := l.failures[ip][:0]
	for _, t := range l.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	l.failures[ip] = recent

	if len(recent) >= l.limit {
		l.bans[ip] = now.Add(l.banFor)
		delete(l.failures, ip)
		l.log.Warn("Client banned after repeated auth failures",
			zap.String("client_ip", ip),
			zap.Int("failures", len(recent)),
			zap.Duration("ban_duration", l.banFor))
		return true
	}
	return false
}

// RecordSuccess clears the failure history for an IP.
func (l *AuthLimiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
}

// Cleanup drops expired bans and stale failure history.
func (l *AuthLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	for ip, expiry := range l.bans {
		if now.After(expiry) {
			delete(l.bans, ip)
		}
	}
	cutoff := now.Add(-l.window)
	for ip, times := range l.failures {
		recent := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(l.failures, ip)
		} else {
			l.failures[ip] = recent
		}
	}
}
