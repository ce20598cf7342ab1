// Package connlimit provides connection-attempt admission control for
// ShardIngest: a per-IP and a global token bucket, so neither a single
// noisy client nor a distributed burst can flood the accept loop. It
// adapts the teacher's ConnectionRateLimiter to the shard-ingest domain.
package connlimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config tunes the per-IP and global admission limits.
type Config struct {
	IPBurst int
	IPRate  float64
	IPTTL   time.Duration

	GlobalBurst int
	GlobalRate  float64

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.IPBurst == 0 {
		c.IPBurst = 10
	}
	if c.IPRate == 0 {
		c.IPRate = 2.0
	}
	if c.IPTTL == 0 {
		c.IPTTL = 5 * time.Minute
	}
	if c.GlobalBurst == 0 {
		c.GlobalBurst = 300
	}
	if c.GlobalRate == 0 {
		c.GlobalRate = 100.0
	}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter admits or rejects new shard connections.
type Limiter struct {
	mu  sync.RWMutex
	ips map[string]*ipEntry

	ipBurst int
	ipRate  float64
	ipTTL   time.Duration

	global *rate.Limiter

	logger  zerolog.Logger
	stop    chan struct{}
	stopped sync.Once
}

// New builds a Limiter and starts its background stale-entry sweep.
func New(cfg Config) *Limiter {
	cfg.applyDefaults()
	l := &Limiter{
		ips:     make(map[string]*ipEntry),
		ipBurst: cfg.IPBurst,
		ipRate:  cfg.IPRate,
		ipTTL:   cfg.IPTTL,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:  cfg.Logger.With().Str("component", "connlimit").Logger(),
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a new connection attempt from ip should proceed.
func (l *Limiter) Allow(ip string) bool {
	if !l.global.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("rejected: global connection rate exceeded")
		return false
	}
	if !l.ipLimiter(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("rejected: per-IP connection rate exceeded")
		return false
	}
	return true
}

func (l *Limiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.RLock()
	entry, ok := l.ips[ip]
	l.mu.RUnlock()
	if ok {
		l.mu.Lock()
		entry.lastAccess = time.Now()
		l.mu.Unlock()
		return entry.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.ips[ip]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	entry = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst), lastAccess: time.Now()}
	l.ips[ip] = entry
	return entry.limiter
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for ip, entry := range l.ips {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ips, ip)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (l *Limiter) Close() {
	l.stopped.Do(func() { close(l.stop) })
}
