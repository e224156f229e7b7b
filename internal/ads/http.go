package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoFill is returned when the server has no creative for a placement.
var ErrNoFill = errors.New("ads: no fill")

// HTTPProvider implements Provider against the ad server's HTTP/JSON API.
type HTTPProvider struct {
	baseURL          string
	interstitialUnit string
	bannerUnit       string
	httpClient       *http.Client
}

// NewHTTPProvider creates a provider targeting the given base URL
// (e.g. "https://ads.example.com").
func NewHTTPProvider(baseURL, interstitialUnit, bannerUnit string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:          strings.TrimRight(baseURL, "/"),
		interstitialUnit: interstitialUnit,
		bannerUnit:       bannerUnit,
		httpClient:       &http.Client{},
	}
}

// Close is a no-op for the HTTP provider.
func (p *HTTPProvider) Close() error { return nil }

// Init pings the ad server so that cold-start failures surface before the
// first load.
func (p *HTTPProvider) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("ads: init: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ads: init: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ads: init: server returned %s", resp.Status)
	}
	return nil
}

func (p *HTTPProvider) LoadInterstitial(ctx context.Context) (*Creative, error) {
	return p.request(ctx, p.interstitialUnit, KindInterstitial)
}

func (p *HTTPProvider) LoadBanner(ctx context.Context) (*Creative, error) {
	return p.request(ctx, p.bannerUnit, KindBanner)
}

// adRequest is the wire request for a creative.
type adRequest struct {
	UnitID string `json:"unit_id"`
	Kind   string `json:"kind"`
	// Always true: the kiosk is a shared appliance with no user identity.
	NonPersonalized bool   `json:"non_personalized"`
	DeviceType      string `json:"device_type"`
}

// adResponse is the wire response. DurationSecs only applies to interstitials.
type adResponse struct {
	ID           string `json:"id"`
	UnitID       string `json:"unit_id"`
	Kind         string `json:"kind"`
	HTML         string `json:"html"`
	ClickURL     string `json:"click_url"`
	DurationSecs int    `json:"duration_secs"`
}

func (p *HTTPProvider) request(ctx context.Context, unitID, kind string) (*Creative, error) {
	body, err := json.Marshal(adRequest{
		UnitID:          unitID,
		Kind:            kind,
		NonPersonalized: true,
		DeviceType:      "kiosk",
	})
	if err != nil {
		return nil, fmt.Errorf("ads: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/ads/request", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ads: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ads: requesting %s creative: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoFill
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ads: server returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var ar adResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("ads: decoding %s creative: %w", kind, err)
	}
	if ar.HTML == "" {
		return nil, ErrNoFill
	}
	return &Creative{
		ID:       ar.ID,
		UnitID:   ar.UnitID,
		Kind:     ar.Kind,
		HTML:     ar.HTML,
		ClickURL: ar.ClickURL,
		Duration: time.Duration(ar.DurationSecs) * time.Second,
	}, nil
}
