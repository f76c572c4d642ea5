package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/bobarin/montage/internal/models"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo video generation through the Google Gen AI SDK. GenerateVideos starts a
// long-running operation; GetVideosOperation refreshes it until Done.
// Finished videos are downloaded through the Files API and re-hosted.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel  = "veo-3.1-generate-preview"
	veoMaxDuration   = 8
	veoDefaultAspect = "9:16"
)

type VeoConfig struct {
	ID       string
	APIKey   string
	Model    string
	BaseURL  string   // Optional: overrides the Gemini API endpoint
	Uploader Uploader // Required: Veo returns bytes, not a public URL
}

type Veo struct {
	id       string
	model    string
	client   *genai.Client
	uploader Uploader

	// In-flight operations by name. The SDK needs the previous operation
	// value to refresh it.
	ops sync.Map
}

var _ Provider = (*Veo)(nil)

func NewVeo(ctx context.Context, cfg VeoConfig) (*Veo, error) {
	if cfg.Uploader == nil {
		return nil, models.ConfigError("veo requires an uploader")
	}
	if cfg.ID == "" {
		cfg.ID = string(KindVeo)
	}
	if cfg.Model == "" {
		cfg.Model = defaultVeoModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Veo{id: cfg.ID, model: cfg.Model, client: client, uploader: cfg.Uploader}, nil
}

func (v *Veo) ID() string { return v.id }
func (v *Veo) Kind() Kind { return KindVeo }

func (v *Veo) Submit(ctx context.Context, req Request) (Handle, error) {
	if req.DurationSec > veoMaxDuration {
		return Handle{}, models.Permanent(v.id, fmt.Errorf("duration %.2fs exceeds the %ds limit", req.DurationSec, veoMaxDuration))
	}

	var firstFrame *genai.Image
	if req.ImageURL != "" {
		data, mimeType, err := fetchMedia(ctx, v.id, req.ImageURL)
		if err != nil {
			return Handle{}, fmt.Errorf("failed to fetch first frame: %w", err)
		}
		if mimeType == "" {
			mimeType = "image/png"
		}
		firstFrame = &genai.Image{ImageBytes: data, MIMEType: mimeType}
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = veoDefaultAspect
	}
	config := &genai.GenerateVideosConfig{
		AspectRatio:    aspect,
		NumberOfVideos: 1,
	}
	if req.DurationSec > 0 {
		secs := int32(math.Ceil(req.DurationSec))
		config.DurationSeconds = &secs
	}
	if firstFrame != nil {
		config.PersonGeneration = "allow_adult"
	}

	prompt := buildVideoPrompt(req)
	log.Printf("[Veo] Submitting scene %s (model=%s, promptLen=%d, hasImage=%v)", req.SceneID, v.model, len(prompt), firstFrame != nil)

	op, err := v.client.Models.GenerateVideos(ctx, v.model, prompt, firstFrame, config)
	if err != nil {
		return Handle{}, classifyGenAIError(v.id, err)
	}

	v.ops.Store(op.Name, op)
	log.Printf("[Veo] Operation started: %s", op.Name)
	return Handle{Provider: v.id, SceneID: req.SceneID, ID: op.Name}, nil
}

func (v *Veo) Poll(ctx context.Context, h Handle) (PollResult, error) {
	stored, ok := v.ops.Load(h.ID)
	if !ok {
		return PollResult{}, models.Permanent(v.id, fmt.Errorf("unknown operation %s", h.ID))
	}
	op := stored.(*genai.GenerateVideosOperation)

	op, err := v.client.Operations.GetVideosOperation(ctx, op, nil)
	if err != nil {
		return PollResult{}, classifyGenAIError(v.id, err)
	}
	v.ops.Store(h.ID, op)

	if !op.Done {
		return PollResult{}, nil
	}
	defer v.ops.Delete(h.ID)

	if len(op.Error) > 0 {
		errJSON, _ := json.Marshal(op.Error)
		return PollResult{}, models.Permanent(v.id, fmt.Errorf("operation failed: %s", string(errJSON)))
	}
	if op.Response == nil {
		return PollResult{}, models.Transient(v.id, fmt.Errorf("no response in completed operation %s", op.Name))
	}
	if op.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(op.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(op.Response.RAIMediaFilteredReasons, ", ")
		}
		return PollResult{}, models.Permanent(v.id, fmt.Errorf("blocked by safety filters: %s", reasons))
	}
	if len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return PollResult{}, models.Permanent(v.id, fmt.Errorf("no videos in response"))
	}

	video := op.Response.GeneratedVideos[0].Video
	data, err := v.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
	if err != nil {
		return PollResult{}, classifyGenAIError(v.id, err)
	}
	if len(data) == 0 {
		return PollResult{}, models.Transient(v.id, fmt.Errorf("downloaded video is empty (0 bytes)"))
	}

	publicURL, err := v.uploader.Upload(ctx, mediaPath(v.id, h.SceneID, h.ID, "mp4"), data, "video/mp4")
	if err != nil {
		return PollResult{}, models.Transient(v.id, fmt.Errorf("failed to re-host video: %w", err))
	}

	log.Printf("[Veo] Operation %s finished (%d bytes)", h.ID, len(data))
	return PollResult{
		Done:  true,
		Media: &models.MediaRef{URI: publicURL, Provider: v.id, ContentType: models.ContentVideo},
	}, nil
}

// Cancel forgets the operation; the Gemini API offers no cancellation for
// video operations.
func (v *Veo) Cancel(ctx context.Context, h Handle) error {
	v.ops.Delete(h.ID)
	return nil
}

func classifyGenAIError(provider string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatusCode(provider, apiErr.Code, err)
	}
	return models.Transient(provider, err)
}
