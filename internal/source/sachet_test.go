package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
)

const sachetSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>SACHET CAP Alerts</title>
    <item>
      <title>Flood Warning for Guwahati, Assam</title>
      <description>River Brahmaputra flowing above danger level.</description>
      <link>https://sachet.ndma.gov.in/alert/5001</link>
      <guid>cap-5001</guid>
      <pubDate>Tue, 10 Jun 2025 08:00:00 GMT</pubDate>
      <category>Severe</category>
    </item>
    <item>
      <title>Lightning Alert for Ranchi, Jharkhand</title>
      <description>Thunderstorm with lightning very likely.</description>
      <link>https://sachet.ndma.gov.in/alert/5002</link>
      <guid>cap-5002</guid>
      <pubDate>Tue, 10 Jun 2025 07:15:00 GMT</pubDate>
      <category>Moderate</category>
    </item>
  </channel>
</rss>`

func TestSACHET_FetchMapsCAPItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sachetSample))
	}))
	defer srv.Close()

	adapter := NewSACHET(srv.Client(), srv.URL)
	cands, err := adapter.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}

	flood := cands[0]
	if flood.NativeID != "cap-5001" {
		t.Errorf("expected guid as native id, got %s", flood.NativeID)
	}
	if flood.Type != models.TypeFlood {
		t.Errorf("expected flood type, got %s", flood.Type)
	}
	if flood.Severity != models.SeverityHigh {
		t.Errorf("expected Severe -> high, got %s", flood.Severity)
	}
	if len(flood.Areas) != 1 || flood.Areas[0].City != "Guwahati" || flood.Areas[0].State != "Assam" {
		t.Errorf("place parsing failed: %+v", flood.Areas)
	}

	lightning := cands[1]
	if lightning.Type != models.TypeWeather {
		t.Errorf("expected lightning -> weather, got %s", lightning.Type)
	}
	if lightning.Severity != models.SeverityMedium {
		t.Errorf("expected Moderate -> medium, got %s", lightning.Severity)
	}
}

func TestParseSACHETPlace(t *testing.T) {
	tests := []struct {
		title string
		city  string
		state string
	}{
		{"Flood Warning for Guwahati, Assam", "Guwahati", "Assam"},
		{"Heat Wave Alert for Gaya, Bihar", "Gaya", "Bihar"},
		{"General advisory", "", ""},
	}

	for _, tt := range tests {
		areas := parseSACHETPlace(tt.title)
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
