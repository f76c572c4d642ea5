package providers

import (
	"context"

	"github.com/bobarin/montage/internal/models"
)

// Kind is the closed set of provider variants this service knows how to drive.
type Kind string

const (
	KindXAI         Kind = "xai"
	KindVeo         Kind = "veo"
	KindOpenAIImage Kind = "openai-image"
	KindElevenLabs  Kind = "elevenlabs"
)

func (k Kind) Valid() bool {
	switch k {
	case KindXAI, KindVeo, KindOpenAIImage, KindElevenLabs:
		return true
	}
	return false
}

// Request is what the orchestrator asks a provider to generate for one scene.
type Request struct {
	SceneID     string
	ContentType models.ContentType
	Style       string
	Prompt      string
	ImageURL    string // Optional first frame for image-to-video
	Script      string // Narration text for speech providers
	DurationSec float64
	AspectRatio string
}

// Handle identifies an in-flight generation at one provider.
type Handle struct {
	Provider string `json:"provider"`
	SceneID  string `json:"scene_id"`
	ID       string `json:"id"`
}

// PollResult is a non-error poll outcome. Media is set only when Done.
type PollResult struct {
	Done  bool
	Media *models.MediaRef
}

// Provider is the capability contract every generation back-end implements.
// Errors returned from any method are classified with the models sentinels
// (ErrTransientProvider, ErrRateLimited, ErrPermanentProvider); an
// unclassified error is treated as transient.
type Provider interface {
	ID() string
	Kind() Kind
	Submit(ctx context.Context, req Request) (Handle, error)
	Poll(ctx context.Context, h Handle) (PollResult, error)
	Cancel(ctx context.Context, h Handle) error
}

// Uploader re-hosts generated bytes and returns a durable public URL.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}
