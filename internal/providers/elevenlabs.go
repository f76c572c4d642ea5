package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bobarin/montage/internal/models"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ElevenLabs text-to-speech for scene narration.
// POST /v1/text-to-speech/{voice_id} returns the audio bytes directly.
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsOutputFormat = "mp3_44100_128"
)

type ElevenLabsConfig struct {
	ID       string
	APIKey   string
	VoiceID  string
	BaseURL  string // Override for tests
	Uploader Uploader
}

type ElevenLabs struct {
	id       string
	apiKey   string
	voiceID  string
	modelID  string
	baseURL  string
	uploader Uploader
	client   *http.Client

	mu      sync.Mutex
	results map[string]*models.MediaRef
}

var _ Provider = (*ElevenLabs)(nil)

func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if cfg.Uploader == nil {
		return nil, models.ConfigError("elevenlabs requires an uploader")
	}
	if cfg.ID == "" {
		cfg.ID = string(KindElevenLabs)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	return &ElevenLabs{
		id:       cfg.ID,
		apiKey:   cfg.APIKey,
		voiceID:  cfg.VoiceID,
		modelID:  elevenLabsDefaultModel,
		baseURL:  cfg.BaseURL,
		uploader: cfg.Uploader,
		client:   &http.Client{Timeout: 90 * time.Second},
		results:  make(map[string]*models.MediaRef),
	}, nil
}

func (e *ElevenLabs) ID() string { return e.id }
func (e *ElevenLabs) Kind() Kind { return KindElevenLabs }

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (e *ElevenLabs) Submit(ctx context.Context, req Request) (Handle, error) {
	text := req.Script
	if text == "" {
		text = req.Prompt
	}
	if text == "" {
		return Handle{}, models.Permanent(e.id, fmt.Errorf("scene %s has no narration text", req.SceneID))
	}

	jsonData, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: e.modelID,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.6,
			SimilarityBoost: 0.8,
		},
	})
	if err != nil {
		return Handle{}, models.Permanent(e.id, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", e.baseURL, e.voiceID, elevenLabsOutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return Handle{}, models.Permanent(e.id, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	log.Printf("[ElevenLabs] Generating narration for scene %s (textLen=%d)", req.SceneID, len(text))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Handle{}, models.Transient(e.id, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Handle{}, models.Transient(e.id, fmt.Errorf("failed to read audio: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return Handle{}, ClassifyHTTPStatus(e.id, resp, audio)
	}
	if len(audio) == 0 {
		return Handle{}, models.Transient(e.id, fmt.Errorf("empty audio response"))
	}

	h := Handle{Provider: e.id, SceneID: req.SceneID, ID: uuid.New().String()}
	publicURL, err := e.uploader.Upload(ctx, mediaPath(e.id, h.SceneID, h.ID, "mp3"), audio, "audio/mpeg")
	if err != nil {
		return Handle{}, models.Transient(e.id, fmt.Errorf("failed to re-host audio: %w", err))
	}

	e.mu.Lock()
	e.results[h.ID] = &models.MediaRef{URI: publicURL, Provider: e.id, ContentType: models.ContentSpeech}
	e.mu.Unlock()

	log.Printf("[ElevenLabs] Narration ready for scene %s (%d bytes)", req.SceneID, len(audio))
	return h, nil
}

func (e *ElevenLabs) Poll(ctx context.Context, h Handle) (PollResult, error) {
	e.mu.Lock()
	media, ok := e.results[h.ID]
	delete(e.results, h.ID)
	e.mu.Unlock()
	if !ok {
		return PollResult{}, models.Permanent(e.id, fmt.Errorf("unknown handle %s", h.ID))
	}
	return PollResult{Done: true, Media: media}, nil
}

func (e *ElevenLabs) Cancel(ctx context.Context, h Handle) error {
	e.mu.Lock()
	delete(e.results, h.ID)
	e.mu.Unlock()
	return nil
}
