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

// imdPlace matches the trailing "City (State)" clause IMD puts in warning
// titles, e.g. "Heavy Rainfall Warning - Chennai (Tamil Nadu)".
var imdPlace = regexp.MustCompile(`([A-Za-z .]+?)\s*\(([A-Za-z .]+)\)\s*$`)

// IMD scrapes the India Meteorological Department district warning RSS
// feed. IMD grades warnings by colour code, carried as item categories.
type IMD struct {
	client HTTPClient
	url    string
	parser *gofeed.Parser
}

func NewIMD(client HTTPClient, url string) *IMD {
	return &IMD{client: client, url: url, parser: gofeed.NewParser()}
}

func (a *IMD) Name() models.Source {
	return models.SourceIMD
}

func (a *IMD) Fetch(ctx context.Context, filter *CityFilter) ([]models.Candidate, error) {
	resp, err := get(ctx, a.client, a.url)
	if err != nil {
		return nil, AsFailure(models.SourceIMD, ReasonTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, AsFailure(models.SourceIMD, ReasonTransport, fmt.Errorf("read body: %w", err))
	}

	feed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, AsFailure(models.SourceIMD, ReasonParse, fmt.Errorf("parse feed: %w", err))
	}

	cands := make([]models.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		c := models.Candidate{
			NativeID:    item.GUID,
			Source:      models.SourceIMD,
			Type:        mapIMDType(item.Title + " " + item.Description),
			Severity:    mapIMDColour(item.Categories),
			Title:       item.Title,
			Description: strings.TrimSpace(item.Description),
			Areas:       parseIMDPlace(item.Title),
			SourceURL:   item.Link,
		}
		if item.PublishedParsed != nil {
			c.IssuedAt = *item.PublishedParsed
		}
		cands = append(cands, c)
	}

	return applyFilter(cands, filter), nil
}

func parseIMDPlace(title string) []models.Area {
	m := imdPlace.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	return []models.Area{{
		City:  strings.TrimSpace(m[1]),
		State: strings.TrimSpace(m[2]),
	}}
}

// mapIMDColour maps IMD's colour-coded warning levels. Red means take
// action, orange be prepared, yellow be updated, green no warning.
func mapIMDColour(categories []string) models.Severity {
	for _, cat := range categories {
		switch strings.ToLower(strings.TrimSpace(cat)) {
		case "red":
			return models.SeverityCritical
		case "orange":
			return models.SeverityHigh
		case "yellow":
			return models.SeverityMedium
		case "green":
			return models.SeverityLow
		}
	}
	return models.SeverityMedium
}

func mapIMDType(text string) models.AlertType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cyclone"):
		return models.TypeCyclone
	case strings.Contains(lower, "flood"):
		return models.TypeFlood
	case strings.Contains(lower, "rain"), strings.Contains(lower, "thunderstorm"),
		strings.Contains(lower, "heat wave"), strings.Contains(lower, "cold wave"),
		strings.Contains(lower, "fog"), strings.Contains(lower, "snow"):
		return models.TypeWeather
	default:
		return models.TypeWeather
	}
}
