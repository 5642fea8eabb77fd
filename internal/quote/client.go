// Package quote calls the external pricing function and normalizes its answer.
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"towing/internal/domain"
)

// Params are the trip endpoints to price.
type Params struct {
	Origin      domain.Coordinates
	Destination domain.Coordinates
}

// Config configures the Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client computes quotes through the pricing function.
type Client struct {
	url        string
	apiKey     string
	creds      CredentialSource
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, creds CredentialSource, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type computeRequest struct {
	OriginLat float64 `json:"origem_lat"`
	OriginLng float64 `json:"origem_lng"`
	DestLat   float64 `json:"destino_lat"`
	DestLng   float64 `json:"destino_lng"`
}

type computeResponse struct {
	DistanceKm      number  `json:"distance_km"`
	DurationSeconds number  `json:"duration_seconds"`
	EtaMin          number  `json:"eta_min"`
	Amount          number  `json:"amount"`
	Polyline        *string `json:"polyline"`
	AgencyID        *string `json:"agency_id"`
	Error           string  `json:"error"`
	Message         string  `json:"message"`
}

// Compute prices a trip. On a 401 it refreshes the credential and retries
// exactly once.
func (c *Client) Compute(ctx context.Context, p Params) (*domain.Quote, error) {
	token, err := c.creds.Token(ctx, false)
	if err != nil || token == "" {
		return nil, &AuthenticationError{Err: err}
	}

	payload, err := json.Marshal(computeRequest{
		OriginLat: p.Origin.Lat,
		OriginLng: p.Origin.Lng,
		DestLat:   p.Destination.Lat,
		DestLng:   p.Destination.Lng,
	})
	if err != nil {
		return nil, err
	}

	status, body, err := c.post(ctx, token, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Info("quote: credential rejected, refreshing")
		token, err = c.creds.Token(ctx, true)
		if err != nil || token == "" {
			return nil, &AuthenticationError{Err: err}
		}
		status, body, err = c.post(ctx, token, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthenticationError{Err: fmt.Errorf("refreshed credential rejected")}
		}
	}

	var resp computeResponse
	decodeErr := json.Unmarshal(body, &resp)

	if status < 200 || status > 299 {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("quote function error (%d)", status)
		}
		c.logger.Warn("quote: upstream failure", zap.Int("status", status), zap.String("body", string(body)))
		return nil, &UpstreamError{Status: status, Message: msg}
	}
	if decodeErr != nil {
		return nil, &InvalidResponseError{Field: "body"}
	}

	return normalize(resp)
}

func (c *Client) post(ctx context.Context, token string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read quote response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func normalize(r computeResponse) (*domain.Quote, error) {
	distance, ok := r.DistanceKm.finite()
	if !ok || distance <= 0 {
		return nil, &InvalidResponseError{Field: "distance_km"}
	}
	amount, ok := r.Amount.finite()
	if ok && amount < 0 {
		return nil, &InvalidResponseError{Field: "amount"}
	}

	q := &domain.Quote{DistanceKm: distance, Amount: amount, AmountMissing: !ok}
	if d, ok := r.DurationSeconds.finite(); ok && d > 0 {
		q.DurationSeconds = d
	}
	q.EtaMinutes = etaMinutes(r.EtaMin, q.DurationSeconds)
	if r.Polyline != nil {
		q.Polyline = *r.Polyline
	}
	if r.AgencyID != nil {
		q.AgencyID = *r.AgencyID
	}
	return q, nil
}

// etaMinutes prefers the function's own ETA and otherwise derives it from
// the route duration, never going below one minute.
func etaMinutes(eta number, durationSeconds float64) int {
	if v, ok := eta.finite(); ok && v > 0 {
		return int(math.Ceil(v))
	}
	m := int(math.Round(durationSeconds / 60))
	if m < 1 {
		return 1
	}
	return m
}

// number accepts JSON numbers, numeric strings and null.
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*n = number{}
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = number{}
		return nil
	}
	*n = number{value: v, set: true}
	return nil
}

func (n number) finite() (float64, bool) {
	if !n.set || math.IsNaN(n.value) || math.IsInf(n.value, 0) {
		return 0, false
	}
	return n.value, true
}
