package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
)

const clientDefaultTimeout = 30 * time.Second

// ClientOptions configures the HTTP provider client.
type ClientOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks to the image-generation provider's REST API: one POST to
// create a generation, then GET polls until a terminal stage.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a provider client.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("image provider base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: clientDefaultTimeout}
	}
	return &Client{baseURL: baseURL, apiKey: opts.APIKey, client: client}, nil
}

type submitBody struct {
	Model               string   `json:"model"`
	Prompt              string   `json:"prompt"`
	ReferenceImages     []string `json:"reference_images,omitempty"`
	TargetImage         string   `json:"target_image"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	PreserveComposition bool     `json:"preserve_composition,omitempty"`
	RequestTag          string   `json:"request_tag,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit creates a generation request and returns the provider's id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body := submitBody{
		Model:               req.ProviderModel,
		Prompt:              req.Prompt,
		ReferenceImages:     req.RefImageURLs,
		TargetImage:         req.TargetImageURL,
		Width:               req.Width,
		Height:              req.Height,
		PreserveComposition: req.PreserveComposition,
		RequestTag:          req.RequestTag,
	}
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/generations", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("image provider returned no request id")
	}
	return resp.ID, nil
}

// Poll observes one in-flight request.
func (c *Client) Poll(ctx context.Context, providerRequestID string) (*PollResult, error) {
	if strings.TrimSpace(providerRequestID) == "" {
		return nil, errors.New("provider request id is required")
	}
	var resp pollResponse
	path := "/generations/" + url.PathEscape(providerRequestID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &PollResult{
		Stage:     NormalizeStage(resp.Status),
		OutputURL: resp.OutputURL,
		Error:     resp.Error,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = &buf
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("image provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%w: status %d: %s", domain.ErrProviderFailure, resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("%w: status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Provider = (*Client)(nil)
