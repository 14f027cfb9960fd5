// Package ratelimit bounds request rates per client IP on public routes and
// per user on authenticated ones, with a sliding window kept in Redis or in
// process memory.
package ratelimit

import (
	"context"
	"time"
)

// Class is one limit: at most Limit requests per Window.
type Class struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait, in whole seconds, before the window frees a slot.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	return max(secs, 1)
}

// Store counts requests in a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}
