package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Registration is the JSON body a backend service sends to the gateway's
// registry surface when it comes up.
type Registration struct {
	Name    string `json:"name"`
	Address string `json:"address"` // base URL: scheme://host:port
}

// Client registers a backend service with the gateway registry over HTTP.
// Services call Register on startup and Unregister on graceful shutdown.
type Client struct {
	gatewayURL string
	reg        Registration
	logger     *slog.Logger
	httpClient *http.Client
	retryDelay time.Duration
}

// NewClient creates a registration client for the given gateway base URL.
func NewClient(gatewayURL, serviceName, serviceAddress string, logger *slog.Logger) *Client {
	return &Client{
		gatewayURL: gatewayURL,
		reg:        Registration{Name: serviceName, Address: serviceAddress},
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		retryDelay: 2 * time.Second,
	}
}

// Register announces the service to the gateway, retrying until it succeeds
// or ctx is cancelled. Services may boot before the gateway is listening.
func (c *Client) Register(ctx context.Context) error {
	for {
		err := c.registerOnce(ctx)
		if err == nil {
			c.logger.Info("registered with gateway", "service", c.reg.Name, "gateway", c.gatewayURL)
			return nil
		}

		c.logger.Warn("gateway registration failed, retrying",
			"service", c.reg.Name,
			"delay", c.retryDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Client) registerOnce(ctx context.Context) error {
	body, err := json.Marshal(c.reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/registry", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post registration: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway rejected registration: status %d", resp.StatusCode)
	}
	return nil
}

// Unregister removes the service from the gateway registry. Best effort:
// a failure is logged, not returned, because shutdown must proceed anyway.
func (c *Client) Unregister(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.gatewayURL+"/registry/"+c.reg.Name, nil)
	if err != nil {
		c.logger.Warn("build unregister request failed", "service", c.reg.Name, "error", err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway unregister failed", "service", c.reg.Name, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.logger.Info("unregistered from gateway", "service", c.reg.Name)
}
