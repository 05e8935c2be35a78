package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"meetpact/core/config"
)

// Client queries the external calendar service for free/busy windows. Only
// the respect_calendar veto rule consumes it; when the service is
// unreachable the rule treats the window as busy and the agent escalates.
type Client struct {
	httpClient  *http.Client
	freeBusyURL string
}

// NewClient builds a free/busy client authenticated via the OAuth2 client
// credentials flow. Returns nil when no free/busy endpoint is configured;
// the veto checker treats a nil checker as "calendar unavailable".
func NewClient(cfg config.CalendarConfig) *Client {
	if cfg.FreeBusyURL == "" {
		return nil
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	return &Client{
		httpClient:  creds.Client(context.Background()),
		freeBusyURL: cfg.FreeBusyURL,
	}
}

type freeBusyRequest struct {
	CalendarRef string    `json:"calendar_ref"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type freeBusyResponse struct {
	Busy bool `json:"busy"`
}

// IsBusy reports whether the referenced calendar has a conflicting event in
// the given window.
func (c *Client) IsBusy(ctx context.Context, calendarRef string, start time.Time, durationMinutes int) (bool, error) {
	body, err := json.Marshal(freeBusyRequest{
		CalendarRef: calendarRef,
		Start:       start,
		End:         start.Add(time.Duration(durationMinutes) * time.Minute),
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.freeBusyURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("freebusy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("freebusy request: status %d", resp.StatusCode)
	}

	var out freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("freebusy response: %w", err)
	}
	return out.Busy, nil
}
