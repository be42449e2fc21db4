package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Client wraps the shipment tracking REST endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

type snapshotResponse struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Tracking Snapshot `json:"tracking"`
}

// Snapshot fetches the one-shot tracking bootstrap for a shipment.
func (c *Client) Snapshot(ctx context.Context, shipmentID string) (Snapshot, error) {
	body, err := c.do(ctx, http.MethodGet, "/shipments/"+shipmentID+"/tracking", nil)
	if err != nil {
		return Snapshot{}, err
	}

	var parsed snapshotResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if !parsed.Success {
		return Snapshot{}, fmt.Errorf("snapshot rejected: %s", parsed.Message)
	}
	return parsed.Tracking, nil
}

func (c *Client) StartTracking(ctx context.Context, shipmentID string) error {
	_, err := c.do(ctx, http.MethodPost, "/shipments/"+shipmentID+"/start-tracking", nil)
	return err
}

func (c *Client) StopTracking(ctx context.Context, shipmentID string) error {
	_, err := c.do(ctx, http.MethodPost, "/shipments/"+shipmentID+"/stop-tracking", nil)
	return err
}

type locationRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
}

// PushLocation reports one position. The sample is validated before any
// network call is issued.
func (c *Client) PushLocation(ctx context.Context, shipmentID string, sample LocationSample) error {
	if !sample.Valid() {
		return fmt.Errorf("invalid location sample: lat=%v lng=%v", sample.Lat, sample.Lng)
	}

	payload, err := json.Marshal(locationRequest{
		Lat:     sample.Lat,
		Lng:     sample.Lng,
		Speed:   sample.Speed,
		Heading: sample.Heading,
	})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/shipments/"+shipmentID+"/location", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s", method, path, apiError(resp.StatusCode, data))
	}
	return data, nil
}

func apiError(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return fmt.Sprintf("status %d", status)
}
