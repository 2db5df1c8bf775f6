package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

// apiClient calls the parimutuel HTTP API, signing requests when a signer is
// configured.
type apiClient struct {
	baseURL  string
	signer   *crypto.Signer
	adminKey string
	http     *http.Client
	now      func() time.Time
}

func newAPIClient(baseURL string, signer *crypto.Signer, adminKey string) *apiClient {
	return &apiClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		signer:   signer,
		adminKey: adminKey,
		http:     &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

// apiError is the server's error body.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("pmclient: %d %s: %s", e.Status, e.Code, e.Message)
}

// do sends one request and decodes the JSON response into out (when non-nil).
// The signature covers the exact body bytes that are sent.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("pmclient: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pmclient: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		if err := c.signer.SignRequest(req.Header, method, req.URL.Path, body, c.now()); err != nil {
			return err
		}
	}
	if c.adminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pmclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("pmclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("pmclient: decode response: %w", err)
		}
	}
	return nil
}
