package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

const imdSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>IMD District Warnings</title>
    <item>
      <title>Heavy Rainfall Warning - Chennai (Tamil Nadu)</title>
      <description>Extremely heavy rainfall likely over the next 24 hours.</description>
      <link>https://mausam.imd.gov.in/warning/1001</link>
      <guid>imd-warning-1001</guid>
      <pubDate>Tue, 10 Jun 2025 06:30:00 GMT</pubDate>
      <category>Orange</category>
    </item>
    <item>
      <title>Cyclone Alert - Puri (Odisha)</title>
      <description>Cyclonic storm approaching the coast.</description>
      <link>https://mausam.imd.gov.in/warning/1002</link>
      <guid>imd-warning-1002</guid>
      <pubDate>Tue, 10 Jun 2025 04:00:00 GMT</pubDate>
      <category>Red</category>
    </item>
  </channel>
</rss>`

func TestIMD_FetchMapsFeedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(imdSample))
	}))
	defer srv.Close()

	adapter := NewIMD(srv.Client(), srv.URL)
	cands, err := adapter.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}

	rain := cands[0]
	if rain.NativeID != "imd-warning-1001" {
		t.Errorf("expected guid as native id, got %s", rain.NativeID)
	}
	if rain.Severity != models.SeverityHigh {
		t.Errorf("expected Orange -> high, got %s", rain.Severity)
	}
	if rain.Type != models.TypeWeather {
		t.Errorf("expected rainfall -> weather, got %s", rain.Type)
	}
	if len(rain.Areas) != 1 || rain.Areas[0].City != "Chennai" || rain.Areas[0].State != "Tamil Nadu" {
		t.Errorf("place parsing failed: %+v", rain.Areas)
	}
	if rain.IssuedAt.IsZero() {
		t.Error("expected pubDate parsed")
	}

	cyclone := cands[1]
	if cyclone.Severity != models.SeverityCritical {
		t.Errorf("expected Red -> critical, got %s", cyclone.Severity)
	}
	if cyclone.Type != models.TypeCyclone {
		t.Errorf("expected cyclone type, got %s", cyclone.Type)
	}
}

func TestIMD_CityFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(imdSample))
	}))
	defer srv.Close()

	adapter := NewIMD(srv.Client(), srv.URL)
	cands, err := adapter.Fetch(context.Background(), &CityFilter{City: "Puri"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Type != models.TypeCyclone {
		t.Errorf("expected the Puri cyclone alert, got %+v", cands[0])
	}
}

func TestIMD_GarbageFeedIsParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not xml {"))
	}))
	defer srv.Close()

	adapter := NewIMD(srv.Client(), srv.URL)
	_, err := adapter.Fetch(context.Background(), nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseIMDPlace(t *testing.T) {
	tests := []struct {
		title string
		city  string
		state string
	}{
		{"Heavy Rainfall Warning - Chennai (Tamil Nadu)", "Chennai", "Tamil Nadu"},
		{"Thunderstorm Alert - New Delhi (Delhi)", "New Delhi", "Delhi"},
		{"No place here", "", ""},
	}

	for _, tt := range tests {
		areas := parseIMDPlace(tt.title)
		if tt.city == "" {
			if len(areas) != 0 {
				t.Errorf("%q: expected no areas, got %+v", tt.title, areas)
			}
			continue
		}
		if len(areas) != 1 || areas[0].City != tt.city || areas[0].State != tt.state {
			t.Errorf("%q: expected (%s, %s), got %+v", tt.title, tt.city, tt.state, areas)
		}
	}
}
