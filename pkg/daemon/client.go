package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oleksiyp/helmlens/pkg/lens"
	"github.com/oleksiyp/helmlens/pkg/notify"
	"github.com/oleksiyp/helmlens/pkg/selection"
)

// APIClient is a client for the daemon API
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(addr string) *APIClient {
	return &APIClient{
		baseURL: fmt.Sprintf("http://%s", addr),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetStatus gets the daemon status
func (c *APIClient) GetStatus() (*Status, error) {
	var status Status
	if err := c.get("/api/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Chart detects the chart owning location
func (c *APIClient) Chart(location string) (*ChartResponse, error) {
	var resp ChartResponse
	if err := c.do(http.MethodPost, "/api/v1/chart", ChartRequest{Location: location}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Values resolves values for the chart owning req.Location
func (c *APIClient) Values(req ValuesRequest) (*ValuesResponse, error) {
	var resp ValuesResponse
	if err := c.do(http.MethodPost, "/api/v1/values", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// References inspects the template references of text
func (c *APIClient) References(file, text string) (*lens.Inspection, error) {
	var resp lens.Inspection
	if err := c.do(http.MethodPost, "/api/v1/references", ReferencesRequest{File: file, Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Position finds where a value is defined
func (c *APIClient) Position(req PositionRequest) (*PositionResponse, error) {
	var resp PositionResponse
	if err := c.do(http.MethodPost, "/api/v1/position", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invalidate drops cached values
func (c *APIClient) Invalidate(req InvalidateRequest) error {
	return c.post("/api/v1/invalidate", req)
}

// Selections lists override selections
func (c *APIClient) Selections() ([]selection.Selection, error) {
	var resp SelectionsResponse
	if err := c.get("/api/v1/selections", &resp); err != nil {
		return nil, err
	}
	return resp.Selections, nil
}

// Select selects an override file for a chart
func (c *APIClient) Select(chartRoot, valuesFile string) error {
	return c.post("/api/v1/selections", SelectRequest{Chart: chartRoot, Values: valuesFile})
}

// Unselect clears a chart's override selection
func (c *APIClient) Unselect(chartRoot string) error {
	return c.post("/api/v1/selections/remove", RemoveSelectionRequest{Chart: chartRoot})
}

// Warnings lists recent archive warnings
func (c *APIClient) Warnings() ([]notify.Warning, error) {
	var resp WarningsResponse
	if err := c.get("/api/v1/warnings", &resp); err != nil {
		return nil, err
	}
	return resp.Warnings, nil
}

// Shutdown sends shutdown request to daemon
func (c *APIClient) Shutdown() error {
	return c.post("/api/v1/shutdown", nil)
}

// IsHealthy checks if the daemon is healthy
func (c *APIClient) IsHealthy() bool {
	resp, err := c.client.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *APIClient) post(path string, data any) error {
	var success SuccessResponse
	return c.do(http.MethodPost, path, data, &success)
}

func (c *APIClient) do(method, path string, data, out any) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
