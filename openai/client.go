// Package openai is a minimal DALL-E 3 image-generation client.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"imageforge/quota"
)

// Failure reasons reported by the images API. None of these are
// retriable within the same request.
const (
	ReasonContentPolicy     = "content_policy_violation"
	ReasonRateLimit         = "rate_limit_exceeded"
	ReasonInsufficientQuota = "insufficient_quota"
	ReasonInvalidRequest    = "invalid_request_error"
)

// Error is a generation failure with the provider's machine-readable
// reason attached, so callers can pick a user-facing message and status.
type Error struct {
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "image generation failed: " + e.Reason
}

// UserMessage maps provider failure reasons onto messages safe to show
// to end users.
func (e *Error) UserMessage() string {
	switch e.Reason {
	case ReasonContentPolicy:
		return "The prompt violates the content policy. Try a different prompt."
	case ReasonRateLimit:
		return "Too many generation requests right now. Try again in a few minutes."
	case ReasonInsufficientQuota:
		return "The image service is temporarily unavailable. Contact support."
	case ReasonInvalidRequest:
		return "Invalid generation parameters. Check your prompt."
	default:
		return "Unable to generate the image. Try again."
	}
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type generateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality"`
	Style          string `json:"style"`
	ResponseFormat string `json:"response_format"`
}

type generateResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate creates one image with DALL-E 3. The prompt is optimized
// before sending; the caller's original prompt is untouched.
func (c *Client) Generate(ctx context.Context, req quota.GenerateRequest) (*quota.Artifact, error) {
	body, err := json.Marshal(generateRequest{
		Model:          "dall-e-3",
		Prompt:         OptimizePrompt(req.Prompt),
		N:              1,
		Size:           req.Size,
		Quality:        req.Quality,
		Style:          req.Style,
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image generation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && (apiErr.Error.Code != "" || apiErr.Error.Message != "") {
			reason := apiErr.Error.Code
			if reason == "" {
				reason = apiErr.Error.Type
			}
			return nil, &Error{Reason: reason, Message: apiErr.Error.Message}
		}
		return nil, fmt.Errorf("image generation returned status %d", resp.StatusCode)
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return nil, &Error{Reason: ReasonInvalidRequest, Message: "no image was generated"}
	}

	return &quota.Artifact{
		URL:           result.Data[0].URL,
		RevisedPrompt: result.Data[0].RevisedPrompt,
	}, nil
}
