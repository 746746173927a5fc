package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

type ndmaResponse struct {
	Alerts []ndmaAlert `json:"alerts"`
}

type ndmaAlert struct {
	AlertID     string         `json:"alert_id"`
	AlertType   string         `json:"alert_type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Districts   []ndmaDistrict `json:"affected_districts"`
	IssuedOn    string         `json:"issued_on"`  // RFC3339
	ValidTill   string         `json:"valid_till"` // RFC3339, may be empty
	Link        string         `json:"link"`
}

type ndmaDistrict struct {
	District string `json:"district"`
	State    string `json:"state"`
}

// NDMA scrapes the National Disaster Management Authority alert feed.
type NDMA struct {
	client HTTPClient
	url    string
}

func NewNDMA(client HTTPClient, url string) *NDMA {
	return &NDMA{client: client, url: url}
}

func (a *NDMA) Name() models.Source {
	return models.SourceNDMA
}

func (a *NDMA) Fetch(ctx context.Context, filter *CityFilter) ([]models.Candidate, error) {
	resp, err := get(ctx, a.client, a.url)
	if err != nil {
		return nil, AsFailure(models.SourceNDMA, ReasonTransport, err)
	}
	defer resp.Body.Close()

	var data ndmaResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, AsFailure(models.SourceNDMA, ReasonParse, fmt.Errorf("decode body: %w", err))
	}

	cands := make([]models.Candidate, 0, len(data.Alerts))
	for _, raw := range data.Alerts {
		areas := make([]models.Area, 0, len(raw.Districts))
		for _, d := range raw.Districts {
			areas = append(areas, models.Area{City: d.District, State: d.State})
		}

		c := models.Candidate{
			NativeID:    raw.AlertID,
			Source:      models.SourceNDMA,
			Type:        mapNDMAType(raw.AlertType),
			Severity:    mapNDMASeverity(raw.Severity),
			Title:       raw.Title,
			Description: raw.Description,
			Areas:       areas,
			SourceURL:   raw.Link,
		}
		if t, err := time.Parse(time.RFC3339, raw.IssuedOn); err == nil {
			c.IssuedAt = t
		}
		if raw.ValidTill != "" {
			if t, err := time.Parse(time.RFC3339, raw.ValidTill); err == nil {
				c.ExpiresAt = &t
			}
		}
		cands = append(cands, c)
	}

	return applyFilter(cands, filter), nil
}

func mapNDMAType(s string) models.AlertType {
	switch strings.ToLower(s) {
	case "earthquake":
		return models.TypeEarthquake
	case "flood", "flash flood":
		return models.TypeFlood
	case "fire", "forest fire":
		return models.TypeFire
	case "cyclone":
		return models.TypeCyclone
	case "heavy rain", "heat wave", "cold wave", "thunderstorm":
		return models.TypeWeather
	default:
		return models.TypeGeneral
	}
}

func mapNDMASeverity(s string) models.Severity {
	switch strings.ToLower(s) {
	case "extreme":
		return models.SeverityCritical
	case "severe":
		return models.SeverityHigh
	case "moderate":
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
