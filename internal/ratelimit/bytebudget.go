// Package ratelimit implements the byte-rate admission control ShardIngest
// applies per connection: a rolling 10-bucket, 1-second-granularity window
// (spec §4.1) feeding a blocklist with lazy expiry (spec §5).
package ratelimit

import "time"

// Granularity is the width of one bucket in the rolling window.
const Granularity = time.Second

// WindowMultiple is how many buckets the window retains.
const WindowMultiple = 10

// ByteRate tracks bytes transferred over a rolling window of
// WindowMultiple*Granularity, keeping a running total so Average is O(1).
type ByteRate struct {
	buckets []bucket // ordered oldest..newest, len <= WindowMultiple
	total   uint64
}

type bucket struct {
	start time.Time
	bytes uint64
}

// NewByteRate returns an empty rolling window.
func NewByteRate() *ByteRate {
	return &ByteRate{}
}

// Push records n bytes transferred at now, rolling the window forward and
// evicting buckets older than WindowMultiple*Granularity as needed.
func (b *ByteRate) Push(n uint64, now time.Time) {
	if len(b.buckets) > 0 {
		last := &b.buckets[len(b.buckets)-1]
		if now.Sub(last.start) < Granularity {
			last.bytes += n
			b.total += n
			return
		}
	}

	b.buckets = append(b.buckets, bucket{start: now, bytes: n})
	b.total += n

	cutoff := now.Add(-WindowMultiple * Granularity)
	evicted := 0
	for evicted < len(b.buckets) && !b.buckets[evicted].start.After(cutoff) {
		b.total -= b.buckets[evicted].bytes
		evicted++
	}
	if evicted > 0 {
		b.buckets = append(b.buckets[:0], b.buckets[evicted:]...)
	}
}

// Average returns the mean bytes/sec over the retained window.
func (b *ByteRate) Average() float64 {
	if len(b.buckets) == 0 {
		return 0
	}
	return float64(b.total) / float64(WindowMultiple)
}

// Total returns the raw sum of bytes across all retained buckets, for
// verifying the window invariant (sum of buckets == cached total).
func (b *ByteRate) Total() uint64 {
	return b.total
}

// Exceeds reports whether the current average exceeds bytesPerSecBudget.
func (b *ByteRate) Exceeds(bytesPerSecBudget float64) bool {
	return b.Average() > bytesPerSecBudget
}
