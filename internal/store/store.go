package store

import (
	"context"
	"errors"
	"time"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

// ErrNotFound is returned when no alert matches the given id.
var ErrNotFound = errors.New("alert not found")

// Filter narrows FindActive results. Zero values mean "no restriction".
type Filter struct {
	Type            *models.AlertType
	Severity        *models.Severity
	City            string
	State           string
	Since           *time.Time
	IncludeInactive bool
	Page            int
	PageSize        int
}

// Stats is the read-side aggregation for the overview endpoint.
type Stats struct {
	TotalActive int64                      `json:"totalActive"`
	BySeverity  map[models.Severity]int64  `json:"bySeverity"`
	ByType      map[models.AlertType]int64 `json:"byType"`
}

// AlertStore persists canonical alerts. UpsertByKey must be atomic per
// deduplication key: concurrent cycles may not create two rows for one
// key, which is the property the orchestrator's concurrency model leans
// on.
type AlertStore interface {
	UpsertByKey(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	GetByKeys(ctx context.Context, keys []string) (map[string]*models.Alert, error)
	FindActive(ctx context.Context, f Filter) ([]models.Alert, int64, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	Update(ctx context.Context, alert *models.Alert) error
	SetActive(ctx context.Context, id string, active bool) error
	SetVerified(ctx context.Context, id string) error
	IncrementNotificationsSent(ctx context.Context, id string, delta int64) error
	IncrementViews(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)
	AvailableCities(ctx context.Context) ([]string, error)
}
