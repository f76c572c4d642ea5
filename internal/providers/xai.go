package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/bobarin/montage/internal/models"
)

// ---------------------------------------------------------------------------
// xAI Grok Imagine Video
// Deferred request pattern: POST /videos/generations returns a request_id,
// GET /videos/{request_id} reports pending, failed or the finished video URL.
// ---------------------------------------------------------------------------

const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiDefaultModel      = "grok-imagine-video"
	xaiMinDuration       = 1
	xaiMaxDuration       = 15
	xaiDefaultAspect     = "9:16"
	xaiDefaultResolution = "720p"
)

type XAIConfig struct {
	ID       string // Registry id; defaults to "xai"
	APIKey   string
	Model    string
	BaseURL  string   // Override for tests
	Uploader Uploader // Optional; xAI URLs are temporary so finished videos are re-hosted when set
}

type XAI struct {
	id         string
	apiKey     string
	model      string
	baseURL    string
	uploader   Uploader
	httpClient *http.Client
}

var _ Provider = (*XAI)(nil)

func NewXAI(cfg XAIConfig) *XAI {
	if cfg.ID == "" {
		cfg.ID = string(KindXAI)
	}
	if cfg.Model == "" {
		cfg.Model = xaiDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = xaiBaseURL
	}
	return &XAI{
		id:       cfg.ID,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		baseURL:  cfg.BaseURL,
		uploader: cfg.Uploader,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Per HTTP call, not the full poll cycle
		},
	}
}

func (x *XAI) ID() string { return x.id }
func (x *XAI) Kind() Kind { return KindXAI }

type xaiGenerationRequest struct {
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model"`
	Image       *xaiImageInput `json:"image,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
}

type xaiImageInput struct {
	URL string `json:"url"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

// xaiVideoResult has no status field once completed; the video object is
// present instead.
type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func (x *XAI) Submit(ctx context.Context, req Request) (Handle, error) {
	duration := int(math.Ceil(req.DurationSec))
	if duration < xaiMinDuration {
		duration = xaiMinDuration
	}
	if duration > xaiMaxDuration {
		return Handle{}, models.Permanent(x.id, fmt.Errorf("duration %.2fs exceeds the %ds limit", req.DurationSec, xaiMaxDuration))
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = xaiDefaultAspect
	}

	body := xaiGenerationRequest{
		Prompt:      buildVideoPrompt(req),
		Model:       x.model,
		Duration:    duration,
		AspectRatio: aspect,
		Resolution:  xaiDefaultResolution,
	}
	if req.ImageURL != "" {
		body.Image = &xaiImageInput{URL: req.ImageURL}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return Handle{}, models.Permanent(x.id, fmt.Errorf("failed to marshal request: %w", err))
	}

	log.Printf("[xAI] Submitting scene %s (promptLen=%d, hasImage=%v, duration=%ds, aspect=%s)",
		req.SceneID, len(body.Prompt), req.ImageURL != "", duration, aspect)

	respBody, err := x.do(ctx, "POST", x.baseURL+"/videos/generations", jsonData, http.StatusOK, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		return Handle{}, err
	}

	var genResp xaiGenerationResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return Handle{}, models.Transient(x.id, fmt.Errorf("failed to parse generation response: %w", err))
	}
	if genResp.RequestID == "" {
		return Handle{}, models.Transient(x.id, fmt.Errorf("no request_id in generation response"))
	}

	return Handle{Provider: x.id, SceneID: req.SceneID, ID: genResp.RequestID}, nil
}

func (x *XAI) Poll(ctx context.Context, h Handle) (PollResult, error) {
	respBody, err := x.do(ctx, "GET", fmt.Sprintf("%s/videos/%s", x.baseURL, h.ID), nil, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return PollResult{}, err
	}

	var result xaiVideoResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return PollResult{}, models.Transient(x.id, fmt.Errorf("failed to parse video result: %w", err))
	}

	if result.Video != nil && result.Video.URL != "" {
		media, err := x.finish(ctx, h, result.Video.URL)
		if err != nil {
			return PollResult{}, err
		}
		return PollResult{Done: true, Media: media}, nil
	}

	if result.Status == "failed" {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return PollResult{}, models.Permanent(x.id, fmt.Errorf("generation failed: %s (request_id=%s)", msg, h.ID))
	}

	return PollResult{}, nil
}

// Cancel is a no-op: xAI has no cancellation endpoint and an abandoned
// request simply expires.
func (x *XAI) Cancel(ctx context.Context, h Handle) error {
	log.Printf("[xAI] Abandoning request %s", h.ID)
	return nil
}

func (x *XAI) finish(ctx context.Context, h Handle, videoURL string) (*models.MediaRef, error) {
	media := &models.MediaRef{URI: videoURL, Provider: x.id, ContentType: models.ContentVideo}
	if x.uploader == nil {
		return media, nil
	}

	data, _, err := fetchMedia(ctx, x.id, videoURL)
	if err != nil {
		return nil, err
	}
	publicURL, err := x.uploader.Upload(ctx, mediaPath(x.id, h.SceneID, h.ID, "mp4"), data, "video/mp4")
	if err != nil {
		return nil, models.Transient(x.id, fmt.Errorf("failed to re-host video: %w", err))
	}
	log.Printf("[xAI] Request %s re-hosted (%d bytes)", h.ID, len(data))
	media.URI = publicURL
	return media, nil
}

func (x *XAI) do(ctx context.Context, method, url string, payload []byte, okStatus ...int) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, models.Permanent(x.id, fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, models.Transient(x.id, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient(x.id, fmt.Errorf("failed to read response: %w", err))
	}

	for _, code := range okStatus {
		if resp.StatusCode == code {
			return body, nil
		}
	}
	return nil, ClassifyHTTPStatus(x.id, resp, body)
}

// buildVideoPrompt appends the scene style to the raw prompt.
func buildVideoPrompt(req Request) string {
	if req.Style == "" {
		return req.Prompt
	}
	return fmt.Sprintf("%s\n\nVisual style: %s. Keep the palette, lighting and motion consistent with this style throughout. Silent video only.", req.Prompt, req.Style)
}
