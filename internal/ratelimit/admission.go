// Package ratelimit gates new TCP connections per remote address before
// they ever reach the AMQP handshake, using the same token-bucket
// library the teacher repo declared for HTTP request throttling
// (github.com/throttled/throttled/v2) repurposed for connection
// admission control.
package ratelimit

import (
	"fmt"
	"net"

	"github.com/architeacher/amqp-broker/internal/config"
	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
)

// Admitter decides whether a newly accepted net.Conn should be allowed
// to proceed to the AMQP protocol handshake.
type Admitter struct {
	limiter *throttled.GCRARateLimiter
	enabled bool
}

// NewAdmitter builds a per-remote-IP GCRA limiter from RateLimitingConfig.
// When disabled it returns an Admitter whose Allow always succeeds.
func NewAdmitter(cfg config.RateLimitingConfig) (*Admitter, error) {
	if !cfg.Enabled {
		return &Admitter{enabled: false}, nil
	}

	store, err := memstore.New(cfg.MaxKeys)
	if err != nil {
		return nil, fmt.Errorf("create rate limit store: %w", err)
	}

	// throttled admits MaxBurst+1 requests in a burst, so BurstSize is
	// converted to the total number of connections admitted at once.
	maxBurst := cfg.BurstSize - 1
	if maxBurst < 0 {
		maxBurst = 0
	}
	quota := throttled.RateQuota{
		MaxRate:  throttled.PerSec(cfg.ConnectionsPerSec),
		MaxBurst: maxBurst,
	}

	limiter, err := throttled.NewGCRARateLimiter(store, quota)
	if err != nil {
		return nil, fmt.Errorf("create GCRA rate limiter: %w", err)
	}

	return &Admitter{limiter: limiter, enabled: true}, nil
}

// Allow reports whether conn's remote address may proceed, keyed by
// host only (so multiple connections from the same client share a
// bucket regardless of ephemeral source port).
func (a *Admitter) Allow(conn net.Conn) bool {
	if !a.enabled {
		return true
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	limited, _, err := a.limiter.RateLimit(conn.RemoteAddr().Network()+":"+host, 1)
	if err != nil {
		return true
	}

	return !limited
}
