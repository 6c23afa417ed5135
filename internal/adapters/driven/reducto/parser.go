// Package reducto implements the document parser port against the Reducto
// parsing API.
package reducto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/domain"
	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
)

// Ensure Parser implements DocumentParser
var _ driven.DocumentParser = (*Parser)(nil)

const (
	// DefaultBaseURL is the hosted Reducto platform
	DefaultBaseURL = "https://platform.reducto.ai"

	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Parser calls POST /parse with a document URL
type Parser struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewParser creates a Reducto client. baseURL may be empty.
func NewParser(apiKey, baseURL string) (*Parser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reducto API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Parser{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}, nil
}

type parseRequest struct {
	DocumentURL string `json:"document_url"`
}

// Parse submits documentURL and extracts the text from the response.
// Transport and HTTP failures wrap domain.ErrUpstream.
func (p *Parser) Parse(ctx context.Context, documentURL string) (*driven.ParsedDocument, error) {
	if documentURL == "" {
		return nil, domain.NewValidationError("document_url", "document URL is required")
	}

	body, err := json.Marshal(parseRequest{DocumentURL: documentURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: reducto request failed: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read reducto response: %v", domain.ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w: reducto returned status %d: %s", domain.ErrUpstream, resp.StatusCode, msg)
	}

	var raw map[string]any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse reducto response: %v", domain.ErrUpstream, err)
	}

	return &driven.ParsedDocument{
		Text: ExtractText(raw),
		Raw:  raw,
	}, nil
}

// Ping reports whether the client is configured. Reducto has no free
// health endpoint, so no request is made.
func (p *Parser) Ping(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: reducto API key not set", domain.ErrServiceUnavailable)
	}
	return ctx.Err()
}

var textKeys = []string{"content", "text", "body"}

// ExtractText picks the document text out of a parse response. It looks for
// a string under content, text or body at the top level and then under
// result, and falls back to joining the content of every chunk.
func ExtractText(raw map[string]any) string {
	if text, ok := firstString(raw); ok {
		return text
	}

	result, _ := raw["result"].(map[string]any)
	if text, ok := firstString(result); ok {
		return text
	}

	chunks, _ := raw["chunks"].([]any)
	if chunks == nil && result != nil {
		chunks, _ = result["chunks"].([]any)
	}
	var parts []string
	for _, c := range chunks {
		chunk, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := chunk["content"].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstString(m map[string]any) (string, bool) {
	for _, key := range textKeys {
		if s, ok := m[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
