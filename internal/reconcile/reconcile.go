// Package reconcile canonicalizes raw candidates and decides, per
// deduplication key, whether a scrape cycle inserts a new alert, updates
// an existing one, or discards an unchanged re-scrape.
package reconcile

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

type Action string

const (
	ActionInsert  Action = "insert"
	ActionUpdate  Action = "update"
	ActionDiscard Action = "discard"
)

// Decision is the outcome for one deduplication key in one cycle.
// Escalated is set only on updates whose severity increased; it is the
// sole trigger for notification fan-out on updates.
type Decision struct {
	Action    Action
	Alert     *models.Alert
	Escalated bool
}

// DedupKey returns the stable identity for a candidate: the source-native
// id when the source provides one, otherwise a content fingerprint.
func DedupKey(c models.Candidate) string {
	if c.NativeID != "" {
		return strings.ToLower(string(c.Source)) + "_" + c.NativeID
	}
	return Fingerprint(c)
}

var titleJunk = regexp.MustCompile(`[^a-z0-9 ]+`)

// Fingerprint derives a cross-source identity for candidates lacking a
// native id: sha256 over (type, normalized title, sorted area set, UTC day
// bucket of issuedAt). Two sources reporting the same event with the same
// wording on the same day collapse to one key.
func Fingerprint(c models.Candidate) string {
	keys := make([]string, 0, len(c.Areas))
	for _, a := range c.Areas {
		keys = append(keys, a.Key())
	}
	sort.Strings(keys)

	day := c.IssuedAt.UTC().Format("2006-01-02")

	h := sha256.Sum256([]byte(string(c.Type) + "|" + normalizeTitle(c.Title) + "|" + strings.Join(keys, ";") + "|" + day))
	return fmt.Sprintf("fp:%x", h[:16])
}

func normalizeTitle(s string) string {
	s = strings.ToLower(s)
	s = titleJunk.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Merge collapses all candidates sharing a deduplication key into one
// canonical, unpersisted alert per key: max severity, union of areas,
// longest description, union of contributing sources. Results are sorted
// by priority descending, then issue time descending.
func Merge(candidates []models.Candidate, now time.Time) []*models.Alert {
	byKey := make(map[string]*models.Alert)
	var order []string

	for _, c := range candidates {
		key := DedupKey(c)

		issuedAt := c.IssuedAt
		if issuedAt.IsZero() {
			issuedAt = now
		}

		existing, ok := byKey[key]
		if !ok {
			byKey[key] = &models.Alert{
				DedupKey:      key,
				Type:          c.Type,
				Severity:      c.Severity,
				Title:         c.Title,
				Description:   c.Description,
				AffectedAreas: dedupeAreas(c.Areas),
				Sources:       []models.Source{c.Source},
				SourceURL:     c.SourceURL,
				IssuedAt:      issuedAt,
				ExpiresAt:     c.ExpiresAt,
				IsActive:      true,
			}
			order = append(order, key)
			continue
		}

		existing.Severity = models.MaxSeverity(existing.Severity, c.Severity)
		for _, area := range c.Areas {
			if !existing.HasArea(area) {
				existing.AffectedAreas = append(existing.AffectedAreas, area)
			}
		}
		if len(c.Description) > len(existing.Description) {
			existing.Description = c.Description
		}
		if !existing.HasSource(c.Source) {
			existing.Sources = append(existing.Sources, c.Source)
		}
		if existing.SourceURL == "" {
			existing.SourceURL = c.SourceURL
		}
		if issuedAt.Before(existing.IssuedAt) {
			existing.IssuedAt = issuedAt
		}
		existing.ExpiresAt = laterExpiry(existing.ExpiresAt, c.ExpiresAt)
	}

	merged := make([]*models.Alert, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		a.Priority = models.ComputePriority(a.Severity, a.IssuedAt, now)
		merged = append(merged, a)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		return merged[i].IssuedAt.After(merged[j].IssuedAt)
	})
	return merged
}

// Reconcile merges this cycle's candidates and compares each merged alert
// against the store's live record for the same key. Unchanged re-scrapes
// are discarded so they cannot re-trigger notifications.
func Reconcile(candidates []models.Candidate, existing map[string]*models.Alert, now time.Time) []Decision {
	merged := Merge(candidates, now)

	decisions := make([]Decision, 0, len(merged))
	for _, cand := range merged {
		prev, ok := existing[cand.DedupKey]
		if !ok {
			cand.ID = uuid.NewString()
			cand.IsVerified = false
			cand.CreatedAt = now
			cand.UpdatedAt = now
			decisions = append(decisions, Decision{Action: ActionInsert, Alert: cand})
			continue
		}

		decisions = append(decisions, compare(prev, cand, now))
	}
	return decisions
}

// compare applies the update policy: severity change, new areas, a longer
// description, or an extended expiry count as material changes. Areas only
// ever accumulate.
func compare(prev, cand *models.Alert, now time.Time) Decision {
	next := *prev
	changed := false

	if cand.Severity != prev.Severity {
		next.Severity = cand.Severity
		changed = true
	}
	for _, area := range cand.AffectedAreas {
		if !next.HasArea(area) {
			next.AffectedAreas = append(next.AffectedAreas, area)
			changed = true
		}
	}
	if len(cand.Description) > len(prev.Description) {
		next.Description = cand.Description
		changed = true
	}
	if extended := laterExpiry(prev.ExpiresAt, cand.ExpiresAt); !sameExpiry(extended, prev.ExpiresAt) {
		next.ExpiresAt = extended
		changed = true
	}
	for _, src := range cand.Sources {
		if !next.HasSource(src) {
			next.Sources = append(next.Sources, src)
		}
	}

	if !changed {
		return Decision{Action: ActionDiscard, Alert: prev}
	}

	next.Priority = models.ComputePriority(next.Severity, next.IssuedAt, now)
	next.UpdatedAt = now

	return Decision{
		Action:    ActionUpdate,
		Alert:     &next,
		Escalated: cand.Severity.Rank() > prev.Severity.Rank(),
	}
}

func dedupeAreas(areas []models.Area) []models.Area {
	seen := make(map[string]bool, len(areas))
	out := make([]models.Area, 0, len(areas))
	for _, a := range areas {
		if seen[a.Key()] {
			continue
		}
		seen[a.Key()] = true
		out = append(out, a)
	}
	return out
}

func laterExpiry(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
