package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// WebhookTransport delivers push notifications as JSON POSTs to each
// subscription's endpoint. It stands in for the platform's push gateway;
// anything implementing Transport (FCM, APNs relay) plugs in the same way.
type WebhookTransport struct {
	client *http.Client
}

func NewWebhookTransport(client *http.Client) *WebhookTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookTransport{client: client}
}

func (t *WebhookTransport) Send(ctx context.Context, endpoint string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// StaticRegistry is an in-memory Registry implementing the standard match
// rule: a subscription matches an area when its city and state both match,
// or when it names only a state and that state matches.
type StaticRegistry struct {
	subs []Subscription
}

func NewStaticRegistry(subs []Subscription) *StaticRegistry {
	return &StaticRegistry{subs: subs}
}

func (r *StaticRegistry) SubscriptionsForArea(_ context.Context, city, state string) ([]Subscription, error) {
	var matched []Subscription
	for _, sub := range r.subs {
		if !strings.EqualFold(sub.State, state) {
			continue
		}
		if sub.City == "" || strings.EqualFold(sub.City, city) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}
