package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opdeck/internal/config"
)

// apiClient is a thin HTTP client for the daemon's loopback API.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(cfg *config.Config) *apiClient {
	return &apiClient{
		baseURL: "http://" + strings.TrimSpace(cfg.Paths.APIBind),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("daemon: %s", failure.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// deviceStatus mirrors the /device-status payload.
type deviceStatus struct {
	Connected   bool    `json:"connected"`
	Path        *string `json:"path"`
	USBDetected bool    `json:"usb_detected"`
	Mode        *string `json:"mode"`
	DeviceName  string  `json:"device_name"`
	Storage     *struct {
		TotalBytes uint64 `json:"total_bytes"`
		FreeBytes  uint64 `json:"free_bytes"`
	} `json:"storage"`
}

// historyEvent mirrors one /device-history entry.
type historyEvent struct {
	ID          int64  `json:"id"`
	Device      string `json:"device"`
	Connected   bool   `json:"connected"`
	USBDetected bool   `json:"usb_detected"`
	Mode        string `json:"mode"`
	Path        string `json:"path"`
	OccurredAt  string `json:"occurred_at"`
}
