// Package audit records a write-only log of completed DNS queries to
// Postgres. It is strictly observational: nothing in the resolver or
// forwarding server reads it back to make a resolution decision, so
// enabling it never reintroduces caching behavior.
package audit

import "time"

// Event is one completed query, as handed to Repository.Record by the
// forwarding server after a response has been synthesized.
type Event struct {
	CorrelationID string
	Name          string
	QType         string
	ResultCode    string
	Mode          string // "proxy" or "iterative"
	DurationMS    int64
	CreatedAt     time.Time
}
