// Package notion creates one page per catalog entry in a Notion database.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"magnolia/internal/catalog"
	"magnolia/internal/config"
	"magnolia/internal/sink"
)

// APIVersion is sent as the Notion-Version header.
const APIVersion = "2022-06-28"

const userAgent = "magnolia/0.1.0"

// Client is a sink.Ingester for the Notion pages API.
type Client struct {
	apiKey     string
	databaseID string
	baseURL    string
	httpClient *http.Client
}

var _ sink.Ingester = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a client for databaseID. baseURL includes the API version
// prefix, for example https://api.notion.com/v1.
func New(apiKey, databaseID, baseURL string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("notion api key required")
	}
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return nil, errors.New("notion database id required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("notion base url required")
	}
	client := &Client{
		apiKey:     apiKey,
		databaseID: databaseID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the [notion] section.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	timeout := time.Duration(cfg.Notion.TimeoutSeconds) * time.Second
	return New(cfg.Notion.APIKey, cfg.Notion.DatabaseID, cfg.Notion.BaseURL,
		WithHTTPClient(&http.Client{Timeout: timeout}))
}

// Name implements sink.Ingester.
func (c *Client) Name() string { return "notion" }

// Ingest creates a page describing entry.
func (c *Client) Ingest(ctx context.Context, entry catalog.Entry) error {
	body, err := json.Marshal(pageRequest(c.databaseID, entry))
	if err != nil {
		return fmt.Errorf("encode notion page: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("notion returned %d (%s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("notion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type text struct {
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
}

func richText(content string) []text {
	var t text
	t.Text.Content = content
	return []text{t}
}

type selectOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

func pageRequest(databaseID string, entry catalog.Entry) map[string]any {
	extension := entry.Extension
	if extension == "" {
		extension = "none"
	}
	fileType := sink.FileType(entry)
	if fileType == "" {
		fileType = "unknown"
	}
	properties := map[string]any{
		"Name":      map[string]any{"title": richText(entry.Name)},
		"Path":      map[string]any{"rich_text": richText(entry.Path)},
		"Extension": map[string]any{"select": selectOption{Name: extension}},
		"Size":      map[string]any{"number": entry.Size},
		"File Type": map[string]any{"select": selectOption{Name: fileType}},
	}
	if !entry.ModifiedAt.IsZero() {
		properties["Last Modified"] = map[string]any{"date": dateValue{Start: entry.ModifiedAt.UTC().Format(time.RFC3339)}}
	}
	return map[string]any{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": properties,
	}
}
