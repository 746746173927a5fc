package source

import (
	"net/http"
	"time"

	"github.com/thebeacon-app/beacon-alerts/internal/config"
)

// Registry builds the static set of enabled adapters from configuration.
// Adapter selection is fixed at startup.
func Registry(cfg config.SourcesConfig) []Adapter {
	client := &http.Client{
		Timeout: 30 * time.Second, // outer bound; per-fetch deadlines come from ctx
	}

	var adapters []Adapter
	if cfg.NDMA.Enabled {
		adapters = append(adapters, NewNDMA(client, cfg.NDMA.URL))
	}
	if cfg.IMD.Enabled {
		adapters = append(adapters, NewIMD(client, cfg.IMD.URL))
	}
	if cfg.SACHET.Enabled {
		adapters = append(adapters, NewSACHET(client, cfg.SACHET.URL))
	}
	if cfg.ISRO.Enabled {
		adapters = append(adapters, NewISRO(client, cfg.ISRO.URL))
	}
	return adapters
}
