package commit

// restclient.go implements Executor against the REFORMA REST API, which owns
// the actual creation business rules (cost calculations, stock ledgers).

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

const defaultTimeout = 10 * time.Second

// kindPaths maps each record kind to its API collection path.
var kindPaths = map[interaction.Kind]string{
	interaction.KindRawMaterial:      "/api/raw-materials",
	interaction.KindSupplier:         "/api/suppliers",
	interaction.KindFeedFormula:      "/api/feed-formulas",
	interaction.KindPurchase:         "/api/purchases",
	interaction.KindManufacturingRun: "/api/manufacturing-runs",
}

// RESTClient is an Executor that POSTs confirmed records to the REFORMA API.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRESTClient creates a RESTClient targeting the given base URL
// (e.g. "https://api.reforma.example"), authenticating with the bearer token.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// createRequest is the wire body for every creation endpoint.
type createRequest struct {
	FarmID string `json:"farm_id"`
	UserID string `json:"user_id"`
	SiteID string `json:"site_id,omitempty"`
	Record any    `json:"record"`
}

// createResponse is returned on success.
type createResponse struct {
	ID string `json:"id"`
}

// errorResponse is returned by the API on business-rule rejections.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// Commit POSTs the record to the kind's collection endpoint. Business-rule
// rejections (HTTP 409/422) come back as *DomainError.
func (c *RESTClient) Commit(ctx context.Context, req Request) (*Result, error) {
	path, ok := kindPaths[req.Kind]
	if !ok {
		return nil, fmt.Errorf("commit: kind %q has no creation endpoint", req.Kind)
	}

	body, err := json.Marshal(createRequest{
		FarmID: req.FarmID,
		UserID: req.UserID,
		SiteID: req.SiteID,
		Record: req.Record,
	})
	if err != nil {
		return nil, fmt.Errorf("commit: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("commit: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("commit: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("commit: read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		var apiErr errorResponse
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Error == "" {
			return nil, &DomainError{Message: fmt.Sprintf("la operación fue rechazada (HTTP %d)", resp.StatusCode)}
		}
		return nil, &DomainError{Field: apiErr.Field, Value: apiErr.Value, Message: apiErr.Error}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("commit: API returned HTTP %d: %.200s", resp.StatusCode, respBody)
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("commit: decode response: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("commit: API response missing record id")
	}

	return &Result{RecordRef: created.ID}, nil
}
