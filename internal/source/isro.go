package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

type isroResponse struct {
	Events []isroEvent `json:"events"`
}

type isroEvent struct {
	EventID       string       `json:"event_id"`
	Hazard        string       `json:"hazard"`
	SeverityLevel int          `json:"severity_level"` // 1 (lowest) to 4 (highest)
	Title         string       `json:"title"`
	Details       string       `json:"details"`
	Location      isroLocation `json:"location"`
	Timestamp     int64        `json:"timestamp"` // unix seconds
	ReportURL     string       `json:"report_url"`
}

type isroLocation struct {
	District string `json:"district"`
	State    string `json:"state"`
}

// ISRO scrapes the Bhuvan disaster services event feed published by the
// national remote-sensing centre.
type ISRO struct {
	client HTTPClient
	url    string
}

func NewISRO(client HTTPClient, url string) *ISRO {
	return &ISRO{client: client, url: url}
}

func (a *ISRO) Name() models.Source {
	return models.SourceISRO
}

func (a *ISRO) Fetch(ctx context.Context, filter *CityFilter) ([]models.Candidate, error) {
	resp, err := get(ctx, a.client, a.url)
	if err != nil {
		return nil, AsFailure(models.SourceISRO, ReasonTransport, err)
	}
	defer resp.Body.Close()

	var data isroResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, AsFailure(models.SourceISRO, ReasonParse, fmt.Errorf("decode body: %w", err))
	}

	cands := make([]models.Candidate, 0, len(data.Events))
	for _, ev := range data.Events {
		c := models.Candidate{
			NativeID:    ev.EventID,
			Source:      models.SourceISRO,
			Type:        mapISROHazard(ev.Hazard),
			Severity:    mapISROLevel(ev.SeverityLevel),
			Title:       ev.Title,
			Description: ev.Details,
			SourceURL:   ev.ReportURL,
		}
		if ev.Location.District != "" || ev.Location.State != "" {
			c.Areas = []models.Area{{City: ev.Location.District, State: ev.Location.State}}
		}
		if ev.Timestamp > 0 {
			c.IssuedAt = time.Unix(ev.Timestamp, 0).UTC()
		}
		cands = append(cands, c)
	}

	return applyFilter(cands, filter), nil
}

func mapISROHazard(s string) models.AlertType {
	switch strings.ToUpper(s) {
	case "EQ", "EARTHQUAKE":
		return models.TypeEarthquake
	case "FL", "FLOOD":
		return models.TypeFlood
	case "FF", "FOREST_FIRE", "FIRE":
		return models.TypeFire
	case "CY", "CYCLONE":
		return models.TypeCyclone
	case "HW", "WEATHER":
		return models.TypeWeather
	default:
		return models.TypeGeneral
	}
}

func mapISROLevel(level int) models.Severity {
	switch {
	case level >= 4:
		return models.SeverityCritical
	case level == 3:
		return models.SeverityHigh
	case level == 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
