package beacon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client fetches beacons from a drand HTTP endpoint. Fetch failures are
// returned to the caller; the client never retries on its own.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zerolog.Logger
}

// NewClient creates a client for the given endpoint base URL (including the
// chain-hash path segment when the relay requires one).
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  &logger,
	}
}

// Get fetches the beacon for a specific round. It returns both the parsed
// beacon and the raw response body; the raw bytes are the canonical
// representation that travels to the enclave.
func (c *Client) Get(ctx context.Context, round uint64) (*Beacon, []byte, error) {
	url := fmt.Sprintf("%s/public/%d", c.baseURL, round)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build beacon request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch beacon for round %d: %w", round, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("beacon endpoint returned status %d for round %d", resp.StatusCode, round)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read beacon response: %w", err)
	}
	parsed, err := ParseBeacon(body)
	if err != nil {
		return nil, nil, err
	}
	c.logger.Info().Uint64("round", parsed.Round).Msg("Fetched beacon")
	return parsed, body, nil
}
