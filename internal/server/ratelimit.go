package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ssd-technologies/arbiter/internal/agent"
	"github.com/ssd-technologies/arbiter/internal/ratelimit"
	"github.com/ssd-technologies/arbiter/internal/reputation"
)

// ipLimiter implements a per-IP fixed-window rate limiter.
type ipLimiter struct {
	visitors *ratelimit.Keyed
}

func newIPLimiter(rate int, window time.Duration, now ratelimit.Clock) *ipLimiter {
	return &ipLimiter{visitors: ratelimit.NewKeyed(rate, window, now)}
}

// allow returns true if the IP has not exceeded its rate limit.
func (l *ipLimiter) allow(ip string) bool {
	return l.visitors.Allow(ip)
}

// tierLimiter enforces the activity limits of each verification tier per
// caller identity.
type tierLimiter struct {
	tiers map[reputation.VerificationLevel]*tierWindows
}

type tierWindows struct {
	perMinute *ratelimit.Keyed
	perHour   *ratelimit.Keyed
	perDay    *ratelimit.Keyed
}

func newTierLimiter(now ratelimit.Clock) *tierLimiter {
	t := &tierLimiter{tiers: make(map[reputation.VerificationLevel]*tierWindows)}
	for _, lvl := range []reputation.VerificationLevel{
		reputation.VerificationBasic,
		reputation.VerificationStaked,
		reputation.VerificationSocial,
		reputation.VerificationKYC,
	} {
		lim, _ := reputation.LimitsFor(lvl)
		t.tiers[lvl] = &tierWindows{
			perMinute: ratelimit.NewKeyed(lim.AgreementsPerMinute, time.Minute, now),
			perHour:   ratelimit.NewKeyed(lim.AgreementsPerHour, time.Hour, now),
			perDay:    ratelimit.NewKeyed(lim.DisputesPerDay, 24*time.Hour, now),
		}
	}
	return t
}

func (t *tierLimiter) windows(lvl reputation.VerificationLevel) *tierWindows {
	if w, ok := t.tiers[lvl]; ok {
		return w
	}
	return t.tiers[reputation.VerificationBasic]
}

// allowAgreement counts one opened agreement against both agreement windows.
func (t *tierLimiter) allowAgreement(id agent.ID, lvl reputation.VerificationLevel) bool {
	w := t.windows(lvl)
	return w.perMinute.Allow(string(id)) && w.perHour.Allow(string(id))
}

// allowDispute counts one dispute against the daily window.
func (t *tierLimiter) allowDispute(id agent.ID, lvl reputation.VerificationLevel) bool {
	return t.windows(lvl).perDay.Allow(string(id))
}

// cleanup removes expired windows and returns how many were dropped.
func (t *tierLimiter) cleanup() int {
	n := 0
	for _, w := range t.tiers {
		n += w.perMinute.Cleanup() + w.perHour.Cleanup() + w.perDay.Cleanup()
	}
	return n
}

// getIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments.
func getIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
