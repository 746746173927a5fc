package models

import "time"

// Candidate is one raw alert as reported by a single source in a single
// fetch, already mapped into the canonical enums by the adapter. The
// reconciler merges candidates into Alerts.
type Candidate struct {
	NativeID    string // source-native event id, empty when the source has none
	Source      Source
	Type        AlertType
	Severity    Severity
	Title       string
	Description string
	Areas       []Area
	SourceURL   string
	IssuedAt    time.Time  // zero value means the source gave no timestamp
	ExpiresAt   *time.Time // nil when the source gives no expiry
}
