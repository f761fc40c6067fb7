package gmtsar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/groundscan-data/deform.report/internal/httputil"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// Retry policy for collaborator calls. Submissions are idempotent on the
// collaborator side (keyed by acquisition date), so resubmission is safe.
const (
	DefaultMaxAttempts    = 4
	DefaultInitialBackoff = 2 * time.Second
	DefaultRequestTimeout = 5 * time.Minute
)

// ProcessRequest asks the collaborator to produce one epoch's unwrapped
// displacement raster.
type ProcessRequest struct {
	Date             string  `json:"date"` // YYYY-MM-DD
	SatelliteID      string  `json:"satellite_id"`
	Orbit            string  `json:"orbit"`
	Polarization     string  `json:"polarization"`
	FilterWavelength float64 `json:"filter_wavelength,omitempty"`
	UnwrapMethod     string  `json:"unwrap_method,omitempty"`
}

// processResponse is the collaborator's wire format for a finished product.
type processResponse struct {
	CRS          string    `json:"crs"`
	OriginX      float64   `json:"origin_x"`
	OriginY      float64   `json:"origin_y"`
	CellSize     float64   `json:"cell_size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Displacement []float64 `json:"displacement"`
	Coherence    []float64 `json:"coherence"`
}

// Client submits processing jobs to the collaborator over HTTP.
type Client struct {
	HTTP           httputil.HTTPClient
	BaseURL        string
	MaxAttempts    int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
}

// NewClient creates a client with the default retry policy.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	return &Client{
		HTTP:           httpClient,
		BaseURL:        baseURL,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// ProcessEpoch submits one epoch and waits for its raster. Transient
// failures (transport errors and 5xx responses) are retried with doubling
// backoff up to MaxAttempts; a 4xx response fails immediately. After the
// budget is spent the epoch fails with a ResourceError; callers drop that
// epoch and continue with the others.
func (c *Client) ProcessEpoch(ctx context.Context, req ProcessRequest) (*insar.DeformationRaster, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode process request: %w", err)
	}

	backoff := c.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("GMTSAR submission for %s: retrying (attempt %d/%d) after %v",
				req.Date, attempt, c.MaxAttempts, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		raster, retryable, err := c.submitOnce(ctx, body)
		if err == nil {
			return raster, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, &insar.ResourceError{
		Operation: "gmtsar process " + req.Date,
		Attempts:  c.MaxAttempts,
		Err:       lastErr,
	}
}

// submitOnce performs a single submission. The second return value reports
// whether the failure is worth retrying.
func (c *Client) submitOnce(ctx context.Context, body []byte) (*insar.DeformationRaster, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/v1/process", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build process request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("submit processing job: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("collaborator returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("collaborator rejected job: status %d", resp.StatusCode)
	}

	var pr processResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, true, fmt.Errorf("decode process response: %w", err)
	}

	grid := insar.ReferenceGrid{
		CRS:      pr.CRS,
		OriginX:  pr.OriginX,
		OriginY:  pr.OriginY,
		CellSize: pr.CellSize,
		Width:    pr.Width,
		Height:   pr.Height,
	}
	if want := grid.CellCount(); len(pr.Displacement) != want || len(pr.Coherence) != want {
		return nil, false, fmt.Errorf("malformed product: %d displacement, %d coherence values for %d cells",
			len(pr.Displacement), len(pr.Coherence), want)
	}

	return &insar.DeformationRaster{
		Grid:         grid,
		Displacement: pr.Displacement,
		Coherence:    pr.Coherence,
	}, false, nil
}
