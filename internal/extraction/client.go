// Package extraction hands fetched page content to the contact extraction service.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
	"github.com/JakeFAU/org-contact-crawler/internal/metrics"
)

// Config describes the extraction endpoint.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// MaxContentBytes truncates raw content before sending. Zero sends everything.
	MaxContentBytes int
}

// HTTPClient posts ExtractionRequests as JSON.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient validates cfg. A nil client gets one with cfg.Timeout.
func NewHTTPClient(cfg Config, client *http.Client) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("extraction: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{cfg: cfg, client: client}, nil
}

type extractResponse struct {
	Contacts []crawler.Contact `json:"contacts"`
}

// Extract sends one page and returns its contacts, each stamped with the page URL
// when the service leaves SourceURL empty.
func (c *HTTPClient) Extract(ctx context.Context, request crawler.ExtractionRequest) ([]crawler.Contact, error) {
	if limit := c.cfg.MaxContentBytes; limit > 0 && len(request.RawContent) > limit {
		request.RawContent = request.RawContent[:limit]
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("extraction: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("extraction: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveExtraction("error")
		return nil, fmt.Errorf("extraction: post %s: %w", request.PageURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveExtraction("error")
		return nil, fmt.Errorf("extraction: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveExtraction("error")
		return nil, fmt.Errorf("extraction: %s: %w", request.PageURL, &crawler.HTTPStatusError{StatusCode: resp.StatusCode})
	}

	contacts, err := decodeContacts(body)
	if err != nil {
		metrics.ObserveExtraction("error")
		return nil, fmt.Errorf("extraction: decode: %w", err)
	}
	for i := range contacts {
		if contacts[i].SourceURL == "" {
			contacts[i].SourceURL = request.PageURL
		}
	}
	metrics.ObserveExtraction("ok")
	return contacts, nil
}

// decodeContacts accepts {"contacts":[...]} or a bare array.
func decodeContacts(body []byte) ([]crawler.Contact, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var contacts []crawler.Contact
		err := json.Unmarshal(trimmed, &contacts)
		return contacts, err
	}
	var out extractResponse
	err := json.Unmarshal(trimmed, &out)
	return out.Contacts, err
}

// Noop returns no contacts. It is used when no extraction endpoint is configured.
type Noop struct{}

// Extract implements crawler.ContactExtractor.
func (Noop) Extract(context.Context, crawler.ExtractionRequest) ([]crawler.Contact, error) {
	return nil, nil
}
