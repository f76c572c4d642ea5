package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/bobarin/montage/internal/models"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// OpenAIImage generates still images. The API is synchronous, so Submit does
// the work and parks the result under a fresh handle for the next Poll.
type OpenAIImage struct {
	id       string
	client   *openai.Client
	model    string
	uploader Uploader

	mu      sync.Mutex
	results map[string]*models.MediaRef
}

type OpenAIImageConfig struct {
	ID       string
	APIKey   string
	Model    string
	BaseURL  string   // Override for tests
	Uploader Uploader // Optional; OpenAI image URLs expire after an hour
}

var _ Provider = (*OpenAIImage)(nil)

func NewOpenAIImage(cfg OpenAIImageConfig) *OpenAIImage {
	if cfg.ID == "" {
		cfg.ID = string(KindOpenAIImage)
	}
	if cfg.Model == "" {
		cfg.Model = openai.CreateImageModelDallE3
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIImage{
		id:       cfg.ID,
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		uploader: cfg.Uploader,
		results:  make(map[string]*models.MediaRef),
	}
}

func (o *OpenAIImage) ID() string { return o.id }
func (o *OpenAIImage) Kind() Kind { return KindOpenAIImage }

func imageSize(aspect string) string {
	switch aspect {
	case "16:9":
		return openai.CreateImageSize1792x1024
	case "1:1":
		return openai.CreateImageSize1024x1024
	default:
		return openai.CreateImageSize1024x1792
	}
}

func (o *OpenAIImage) Submit(ctx context.Context, req Request) (Handle, error) {
	prompt := req.Prompt
	if req.Style != "" {
		prompt = fmt.Sprintf("%s\n\nVisual style: %s.", req.Prompt, req.Style)
	}

	log.Printf("[OpenAI Image] Generating scene %s (model=%s, promptLen=%d)", req.SceneID, o.model, len(prompt))

	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.model,
		N:              1,
		Size:           imageSize(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return Handle{}, classifyOpenAIError(o.id, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return Handle{}, models.Transient(o.id, fmt.Errorf("no image in response"))
	}

	h := Handle{Provider: o.id, SceneID: req.SceneID, ID: uuid.New().String()}
	media := &models.MediaRef{URI: resp.Data[0].URL, Provider: o.id, ContentType: models.ContentImage}

	if o.uploader != nil {
		data, contentType, err := fetchMedia(ctx, o.id, media.URI)
		if err != nil {
			return Handle{}, err
		}
		if contentType == "" {
			contentType = "image/png"
		}
		publicURL, err := o.uploader.Upload(ctx, mediaPath(o.id, h.SceneID, h.ID, "png"), data, contentType)
		if err != nil {
			return Handle{}, models.Transient(o.id, fmt.Errorf("failed to re-host image: %w", err))
		}
		media.URI = publicURL
	}

	o.mu.Lock()
	o.results[h.ID] = media
	o.mu.Unlock()
	return h, nil
}

func (o *OpenAIImage) Poll(ctx context.Context, h Handle) (PollResult, error) {
	o.mu.Lock()
	media, ok := o.results[h.ID]
	delete(o.results, h.ID)
	o.mu.Unlock()
	if !ok {
		return PollResult{}, models.Permanent(o.id, fmt.Errorf("unknown handle %s", h.ID))
	}
	return PollResult{Done: true, Media: media}, nil
}

func (o *OpenAIImage) Cancel(ctx context.Context, h Handle) error {
	o.mu.Lock()
	delete(o.results, h.ID)
	o.mu.Unlock()
	return nil
}

func classifyOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatusCode(provider, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatusCode(provider, reqErr.HTTPStatusCode, err)
	}
	return models.Transient(provider, err)
}
