package domain

import "time"

// Limits applied to every read regardless of what the client asks for.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ClampLimit bounds n to [1, MaxLimit].
func ClampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Query selects records from a log source.
type Query struct {
	Project string
	Limit   int
	Start   *time.Time
	End     *time.Time
}

// InRange reports whether t falls within the query bounds. Callers pass the
// zero time for unparseable timestamps, which any lower bound excludes.
func (q Query) InRange(t time.Time) bool {
	ms := int64(0)
	if !t.IsZero() {
		ms = t.UnixMilli()
	}
	if q.Start != nil && ms < q.Start.UnixMilli() {
		return false
	}
	if q.End != nil && ms > q.End.UnixMilli() {
		return false
	}
	return true
}
