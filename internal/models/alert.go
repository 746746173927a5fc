package models

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for escalation comparison.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is one of the canonical severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher of the two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type AlertType string

const (
	TypeEarthquake AlertType = "earthquake"
	TypeFlood      AlertType = "flood"
	TypeFire       AlertType = "fire"
	TypeCyclone    AlertType = "cyclone"
	TypeWeather    AlertType = "weather"
	TypeGeneral    AlertType = "general"
)

func (t AlertType) Valid() bool {
	switch t {
	case TypeEarthquake, TypeFlood, TypeFire, TypeCyclone, TypeWeather, TypeGeneral:
		return true
	}
	return false
}

type Source string

const (
	SourceNDMA   Source = "NDMA"
	SourceIMD    Source = "IMD"
	SourceSACHET Source = "SACHET"
	SourceISRO   Source = "ISRO"
	SourceManual Source = "manual"
)

// Area is one affected (city, state) pair. City may be empty for
// state-wide notices.
type Area struct {
	City  string `json:"city"`
	State string `json:"state"`
}

func (a Area) Key() string {
	return strings.ToLower(strings.TrimSpace(a.City)) + "," + strings.ToLower(strings.TrimSpace(a.State))
}

// Alert is the canonical disaster notice. Exactly one live alert exists
// per DedupKey; repeated scrapes of the same event mutate this record.
type Alert struct {
	ID                string     `json:"id"`
	DedupKey          string     `json:"dedupKey"`
	Type              AlertType  `json:"type"`
	Severity          Severity   `json:"severity"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	AffectedAreas     []Area     `json:"affectedAreas"`
	Sources           []Source   `json:"sources"`
	SourceURL         string     `json:"sourceUrl,omitempty"`
	IssuedAt          time.Time  `json:"issuedAt"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	IsVerified        bool       `json:"isVerified"`
	IsActive          bool       `json:"isActive"`
	NotificationsSent int64      `json:"notificationsSent"`
	Priority          int        `json:"priority"`
	Views             int64      `json:"views"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// HasArea reports whether the alert already covers the given area.
func (a *Alert) HasArea(area Area) bool {
	for _, existing := range a.AffectedAreas {
		if existing.Key() == area.Key() {
			return true
		}
	}
	return false
}

// HasSource reports whether src already contributed to this alert.
func (a *Alert) HasSource(src Source) bool {
	for _, s := range a.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// Expired reports whether the alert's expiry has passed at the given time.
// Alerts without an expiry never expire.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// ComputePriority derives the 1-10 sort priority from severity and recency.
// Severity sets the base; alerts issued within the last 6 hours get a bump.
func ComputePriority(severity Severity, issuedAt, now time.Time) int {
	var base int
	switch severity {
	case SeverityCritical:
		base = 9
	case SeverityHigh:
		base = 7
	case SeverityMedium:
		base = 4
	default:
		base = 2
	}
	if now.Sub(issuedAt) <= 6*time.Hour {
		base++
	}
	if base < 1 {
		base = 1
	}
	if base > 10 {
		base = 10
	}
	return base
}
