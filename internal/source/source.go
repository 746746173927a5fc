// Package source contains one adapter per external disaster-information
// provider. Adapters are pure fetch-and-map: they never touch the store,
// and every failure is converted into a tagged *Failure so one broken
// source cannot abort its siblings.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CityFilter restricts a fetch to candidates touching one city.
// Nil means no restriction.
type CityFilter struct {
	City string
}

// Matches reports whether any of the areas touches the filtered city.
func (f *CityFilter) Matches(areas []models.Area) bool {
	if f == nil || f.City == "" {
		return true
	}
	want := strings.ToLower(strings.TrimSpace(f.City))
	for _, a := range areas {
		if strings.ToLower(strings.TrimSpace(a.City)) == want {
			return true
		}
	}
	return false
}

// Adapter fetches raw alerts from one provider and maps them into
// canonical candidates. Each adapter owns its source-vocabulary mapping
// tables.
type Adapter interface {
	Name() models.Source
	Fetch(ctx context.Context, filter *CityFilter) ([]models.Candidate, error)
}

type FailureReason string

const (
	ReasonTimeout   FailureReason = "timeout"
	ReasonTransport FailureReason = "transport"
	ReasonStatus    FailureReason = "bad_status"
	ReasonParse     FailureReason = "unparseable"
)

// Failure tags an adapter error with its source and a coarse reason so
// cycle status and the search endpoint can report per-source outcomes.
type Failure struct {
	Source models.Source
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("source %s failed (%s): %v", f.Source, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure wraps err as a *Failure for the given source, classifying
// context deadline errors as timeouts. A nil err returns nil; an err that
// already is a *Failure is returned unchanged.
func AsFailure(src models.Source, reason FailureReason, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return &Failure{Source: src, Reason: reason, Err: err}
}

// get issues a context-bound GET and verifies the status code. The caller
// owns closing the body on success.
func get(ctx context.Context, client HTTPClient, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "beacon-alerts/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// applyFilter drops candidates outside the filtered city. The external
// feeds have no server-side city query, so filtering happens after mapping.
func applyFilter(cands []models.Candidate, filter *CityFilter) []models.Candidate {
	if filter == nil || filter.City == "" {
		return cands
	}
	filtered := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if filter.Matches(c.Areas) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
