package source

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

// sachetPlace matches the "for City, State" clause in SACHET item titles,
// e.g. "Flood Warning for Guwahati, Assam".
var sachetPlace = regexp.MustCompile(`(?i)\bfor\s+([A-Za-z .]+?),\s*([A-Za-z .]+)\s*$`)

// SACHET scrapes the national CAP alert aggregator's public RSS feed.
// SACHET relays Common Alerting Protocol messages from state agencies, so
// its severity vocabulary follows CAP (Extreme/Severe/Moderate/Minor).
type SACHET struct {
	client HTTPClient
	url    string
	parser *gofeed.Parser
}

func NewSACHET(client HTTPClient, url string) *SACHET {
	return &SACHET{client: client, url: url, parser: gofeed.NewParser()}
}

func (a *SACHET) Name() models.Source {
	return models.SourceSACHET
}

func (a *SACHET) Fetch(ctx context.Context, filter *CityFilter) ([]models.Candidate, error) {
	resp, err := get(ctx, a.client, a.url)
	if err != nil {
		return nil, AsFailure(models.SourceSACHET, ReasonTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, AsFailure(models.SourceSACHET, ReasonTransport, fmt.Errorf("read body: %w", err))
	}

	feed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, AsFailure(models.SourceSACHET, ReasonParse, fmt.Errorf("parse feed: %w", err))
	}

	cands := make([]models.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		c := models.Candidate{
			NativeID:    item.GUID,
			Source:      models.SourceSACHET,
			Type:        mapSACHETType(item.Title),
			Severity:    mapCAPSeverity(item.Categories),
			Title:       item.Title,
			Description: strings.TrimSpace(item.Description),
			Areas:       parseSACHETPlace(item.Title),
			SourceURL:   item.Link,
		}
		if item.PublishedParsed != nil {
			c.IssuedAt = *item.PublishedParsed
		}
		cands = append(cands, c)
	}

	return applyFilter(cands, filter), nil
}

func parseSACHETPlace(title string) []models.Area {
	m := sachetPlace.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	return []models.Area{{
		City:  strings.TrimSpace(m[1]),
		State: strings.TrimSpace(m[2]),
	}}
}

// mapCAPSeverity maps the CAP severity vocabulary carried in item
// categories.
func mapCAPSeverity(categories []string) models.Severity {
	for _, cat := range categories {
		switch strings.ToLower(strings.TrimSpace(cat)) {
		case "extreme":
			return models.SeverityCritical
		case "severe":
			return models.SeverityHigh
		case "moderate":
			return models.SeverityMedium
		case "minor":
			return models.SeverityLow
		}
	}
	return models.SeverityMedium
}

func mapSACHETType(title string) models.AlertType {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "earthquake"):
		return models.TypeEarthquake
	case strings.Contains(lower, "flood"):
		return models.TypeFlood
	case strings.Contains(lower, "fire"):
		return models.TypeFire
	case strings.Contains(lower, "cyclone"):
		return models.TypeCyclone
	case strings.Contains(lower, "rain"), strings.Contains(lower, "storm"),
		strings.Contains(lower, "lightning"), strings.Contains(lower, "wind"):
		return models.TypeWeather
	default:
		return models.TypeGeneral
	}
}
