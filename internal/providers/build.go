package providers

import (
	"context"
	"log"

	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/models"
)

// Build constructs the registry for the enabled providers. Rows of the
// capability table whose kind is disabled are skipped.
func Build(ctx context.Context, cfg *config.Config, uploader Uploader) (*Registry, error) {
	table := DefaultTable()
	if cfg.ProviderTablePath != "" {
		loaded, err := LoadTable(cfg.ProviderTablePath)
		if err != nil {
			return nil, err
		}
		table = loaded
	}

	reg := NewRegistry()
	for _, c := range table {
		p, err := newAdapter(ctx, cfg, c, uploader)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if err := reg.Register(c, p); err != nil {
			return nil, err
		}
		log.Printf("[Providers] Registered %s (kind=%s, tier=%d, maxDuration=%.0fs)", c.ID, c.Kind, c.QualityTier, c.MaxDurationSec)
	}
	return reg, nil
}

func newAdapter(ctx context.Context, cfg *config.Config, c Capability, uploader Uploader) (Provider, error) {
	switch c.Kind {
	case KindXAI:
		if !cfg.XAIEnabled {
			return nil, nil
		}
		return NewXAI(XAIConfig{ID: c.ID, APIKey: cfg.XAIAPIKey, Model: cfg.XAIModel, Uploader: uploader}), nil
	case KindVeo:
		if !cfg.VeoEnabled {
			return nil, nil
		}
		return NewVeo(ctx, VeoConfig{ID: c.ID, APIKey: cfg.GeminiKey, Model: cfg.VeoModel, Uploader: uploader})
	case KindOpenAIImage:
		if !cfg.OpenAIImageEnabled {
			return nil, nil
		}
		return NewOpenAIImage(OpenAIImageConfig{ID: c.ID, APIKey: cfg.OpenAIKey, Uploader: uploader}), nil
	case KindElevenLabs:
		if !cfg.ElevenLabsEnabled {
			return nil, nil
		}
		return NewElevenLabs(ElevenLabsConfig{ID: c.ID, APIKey: cfg.ElevenLabsKey, VoiceID: cfg.ElevenLabsVoiceID, Uploader: uploader})
	}
	return nil, models.ConfigError("provider %s: unknown kind %q", c.ID, c.Kind)
}
