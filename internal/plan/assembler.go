// Package plan assembles generated scene media, the timeline layout, transition
// keyframes and the audio mix into one validated RenderPlan.
package plan

import (
	"fmt"
	"log"

	"github.com/bobarin/montage/internal/audiomix"
	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/models"
	"github.com/bobarin/montage/internal/timeline"
)

// Warning codes
const (
	WarnOverlayClipped   = "overlay_clipped"
	WarnOverlayDropped   = "overlay_dropped"
	WarnNarrationClipped = "narration_clipped"
	WarnNarrationDropped = "narration_dropped"
	WarnSoundClipped     = "sound_clipped"
	WarnSoundDropped     = "sound_dropped"
	WarnScenePlaceholder = "scene_placeholder"
)

const EndCardID = "endcard"

type Settings struct {
	Timeline   timeline.Settings
	Audio      audiomix.Settings
	Width      int
	Height     int
	EndCardSec float64
	EndCardURI string
}

func SettingsFrom(cfg *config.Config) Settings {
	fps := cfg.Timeline.FPS
	return Settings{
		Timeline: timeline.Settings{
			FPS: fps,
			DefaultTransition: models.TransitionSpec{
				Type:        cfg.Timeline.DefaultTransitionType,
				DurationSec: cfg.Timeline.DefaultTransitionSec,
			},
		},
		Audio:      audiomix.SettingsFrom(cfg.Audio, fps),
		Width:      cfg.Timeline.Width,
		Height:     cfg.Timeline.Height,
		EndCardSec: cfg.Timeline.EndCardSec,
		EndCardURI: cfg.Timeline.EndCardURI,
	}
}

func (s Settings) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return models.ConfigError("plan resolution %dx%d is not positive", s.Width, s.Height)
	}
	if s.EndCardSec < 0 {
		return models.ConfigError("end card duration %.3fs is negative", s.EndCardSec)
	}
	return s.Audio.Validate()
}

// Preflight reports the configuration errors Assemble would hit for these
// scenes, so a run can be rejected before any generation is paid for.
func Preflight(scenes []models.Scene, s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}
	if _, err := timeline.Build(scenes, s.Timeline); err != nil {
		return err
	}
	for _, sc := range scenes {
		for _, snd := range sc.Sounds {
			if snd.Volume < 0 || snd.Volume > 1 {
				return models.ConfigError("scene %s: sound %s volume %v out of [0, 1]", sc.ID, snd.ID, snd.Volume)
			}
		}
	}
	return nil
}

// Input is everything one assembly needs. Resolutions are matched to scenes
// by id, so their order does not matter.
type Input struct {
	Scenes      []models.Scene
	Resolutions []models.SceneResolution
	Music       *models.MediaRef
}

// Assemble builds the render plan. Entry order is fixed: scene video in scene
// order, transitions in boundary order, text overlays, audio tracks, then the
// end card. Scenes that ended without media keep a flagged placeholder entry.
// Only configuration errors are returned; clamps and clips become warnings.
func Assemble(in Input, s Settings) (*models.RenderPlan, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	layout, err := timeline.Build(in.Scenes, s.Timeline)
	if err != nil {
		return nil, err
	}

	byScene := make(map[string]models.SceneResolution, len(in.Resolutions))
	for _, r := range in.Resolutions {
		byScene[r.SceneID] = r
	}

	fps := s.Timeline.FPS
	content := layout.ContentFrames()
	endCard := timeline.SecondsToFrames(s.EndCardSec, fps)
	total := content + endCard

	p := &models.RenderPlan{
		Metadata: models.PlanMetadata{
			FPS:           fps,
			Width:         s.Width,
			Height:        s.Height,
			TotalFrames:   total,
			EndCardFrames: endCard,
		},
		Entries:     []models.TimelineEntry{},
		Scenes:      make([]models.SceneReport, 0, len(in.Scenes)),
		Warnings:    append([]models.Warning{}, layout.Warnings...),
		SceneErrors: []models.SceneError{},
	}

	// Scene video
	for i, sc := range in.Scenes {
		res, ok := byScene[sc.ID]
		if !ok {
			return nil, models.ConfigError("scene %s has no resolution", sc.ID)
		}
		r := layout.Scenes[i]
		media := res.Media
		placeholder := res.Outcome == models.OutcomePlaceholderFailed || media.Placeholder

		p.Entries = append(p.Entries, models.TimelineEntry{
			ID:          "video:" + sc.ID,
			Layer:       models.LayerVideo,
			SceneID:     sc.ID,
			StartFrame:  r.StartFrame,
			EndFrame:    r.EndFrame,
			Source:      models.SourceStatic,
			Media:       &media,
			Placeholder: placeholder,
		})
		p.Scenes = append(p.Scenes, models.SceneReport{
			SceneID:  sc.ID,
			Outcome:  res.Outcome,
			Provider: res.Task.Provider,
			Attempts: res.Task.Attempts,
		})

		if placeholder {
			reason := res.Task.LastError
			if reason == "" {
				reason = models.ErrAllProvidersExhausted.Error()
			}
			log.Printf("[Assembler] Scene %s has no media (%s), using placeholder", sc.ID, res.Task.Status)
			p.SceneErrors = append(p.SceneErrors, models.SceneError{
				SceneID: sc.ID,
				Outcome: models.OutcomePlaceholderFailed,
				Status:  res.Task.Status,
				Reason:  reason,
			})
			p.Warnings = append(p.Warnings, models.Warning{
				Code:    WarnScenePlaceholder,
				SceneID: sc.ID,
				Message: fmt.Sprintf("scene %s rendered as placeholder", sc.ID),
			})
		}
	}

	// Transitions
	for _, b := range layout.Boundaries {
		if b.OverlapFrames == 0 {
			continue
		}
		p.Entries = append(p.Entries, models.TimelineEntry{
			ID:         fmt.Sprintf("transition:%s>%s", b.FromSceneID, b.ToSceneID),
			Layer:      models.LayerTransition,
			StartFrame: b.StartFrame,
			EndFrame:   b.EndFrame,
			Source:     models.SourceKeyframes,
			Transition: &models.TransitionParams{
				Type:        b.Spec.Type,
				Direction:   b.Spec.Direction,
				FromSceneID: b.FromSceneID,
				ToSceneID:   b.ToSceneID,
				Keyframes:   timeline.Keyframes(b),
			},
		})
	}

	// Text overlays
	for i, sc := range in.Scenes {
		r := layout.Scenes[i]
		for n, ov := range sc.Overlays {
			start := r.StartFrame + timeline.SecondsToFrames(ov.StartSec, fps)
			end := r.EndFrame
			if ov.EndSec > 0 {
				end = r.StartFrame + timeline.SecondsToFrames(ov.EndSec, fps)
			}
			label := ov.ID
			if label == "" {
				label = fmt.Sprint(n)
			}

			cs, ce, clipped := clip(start, end, r.StartFrame, r.EndFrame)
			if cs >= ce {
				p.Warnings = append(p.Warnings, models.Warning{
					Code:    WarnOverlayDropped,
					SceneID: sc.ID,
					Message: fmt.Sprintf("overlay %s falls outside scene %s", label, sc.ID),
				})
				continue
			}
			if clipped {
				p.Warnings = append(p.Warnings, models.Warning{
					Code:    WarnOverlayClipped,
					SceneID: sc.ID,
					Message: fmt.Sprintf("overlay %s clipped to frames [%d, %d)", label, cs, ce),
				})
			}

			text := ov
			p.Entries = append(p.Entries, models.TimelineEntry{
				ID:         fmt.Sprintf("text:%s:%s", sc.ID, label),
				Layer:      models.LayerTextOverlay,
				SceneID:    sc.ID,
				StartFrame: cs,
				EndFrame:   ce,
				Source:     models.SourceStatic,
				Text:       &text,
			})
		}
	}

	// Audio
	mixIn := audiomix.Input{TotalFrames: total, Music: in.Music}
	for i, sc := range in.Scenes {
		r := layout.Scenes[i]
		if nr := sc.Narration; nr != nil {
			start := r.StartFrame + timeline.SecondsToFrames(nr.OffsetSec, fps)
			end := r.EndFrame
			if nr.DurationSec > 0 {
				end = start + timeline.SecondsToFrames(nr.DurationSec, fps)
			}
			cs, ce, clipped := clip(start, end, r.StartFrame, r.EndFrame)
			switch {
			case cs >= ce:
				p.Warnings = append(p.Warnings, models.Warning{
					Code:    WarnNarrationDropped,
					SceneID: sc.ID,
					Message: fmt.Sprintf("narration of %s falls outside the scene", sc.ID),
				})
			default:
				if clipped {
					p.Warnings = append(p.Warnings, models.Warning{
						Code:    WarnNarrationClipped,
						SceneID: sc.ID,
						Message: fmt.Sprintf("narration of %s clipped to frames [%d, %d)", sc.ID, cs, ce),
					})
				}
				v := audiomix.Voice{SceneID: sc.ID, Start: cs, End: ce}
				if nr.Audio != nil {
					v.MediaURI = nr.Audio.URI
				}
				mixIn.Voices = append(mixIn.Voices, v)
			}
		}

		for n, snd := range sc.Sounds {
			id := snd.ID
			if id == "" {
				id = fmt.Sprint(n)
			}
			start := r.StartFrame + timeline.SecondsToFrames(snd.AtSec, fps)
			end := r.EndFrame
			if snd.DurationSec > 0 {
				end = start + timeline.SecondsToFrames(snd.DurationSec, fps)
			}
			cs, ce, clipped := clip(start, end, 0, total)
			if cs >= ce {
				p.Warnings = append(p.Warnings, models.Warning{
					Code:    WarnSoundDropped,
					SceneID: sc.ID,
					Message: fmt.Sprintf("sound %s of %s falls outside the plan", id, sc.ID),
				})
				continue
			}
			if clipped {
				p.Warnings = append(p.Warnings, models.Warning{
					Code:    WarnSoundClipped,
					SceneID: sc.ID,
					Message: fmt.Sprintf("sound %s of %s clipped to frames [%d, %d)", id, sc.ID, cs, ce),
				})
			}
			vol := snd.Volume
			if vol == 0 {
				vol = 1
			}
			mixIn.Sounds = append(mixIn.Sounds, audiomix.Sound{
				SceneID:  sc.ID,
				ID:       id,
				MediaURI: snd.AssetURI,
				Start:    cs,
				End:      ce,
				Volume:   vol,
			})
		}
	}

	tracks, err := audiomix.Mix(mixIn, s.Audio)
	if err != nil {
		return nil, err
	}
	for _, tr := range tracks {
		src := models.SourceStatic
		if tr.Envelope != nil {
			src = models.SourceKeyframes
		}
		p.Entries = append(p.Entries, models.TimelineEntry{
			ID:         "audio:" + tr.ID,
			Layer:      models.LayerAudio,
			SceneID:    tr.SceneID,
			StartFrame: tr.StartFrame,
			EndFrame:   tr.EndFrame,
			Source:     src,
			Audio: &models.AudioParams{
				TrackID:  tr.ID,
				Kind:     tr.Kind,
				MediaURI: tr.MediaURI,
				Volume:   tr.Volume,
				Envelope: tr.Envelope,
			},
		})
	}

	if endCard > 0 {
		e := models.TimelineEntry{
			ID:         EndCardID,
			Layer:      models.LayerEndCard,
			StartFrame: content,
			EndFrame:   total,
			Source:     models.SourceStatic,
		}
		if s.EndCardURI != "" {
			e.Media = &models.MediaRef{URI: s.EndCardURI, ContentType: models.ContentImage}
		}
		p.Entries = append(p.Entries, e)
	}

	if err := Validate(p); err != nil {
		return nil, err
	}

	log.Printf("[Assembler] Plan ready: %d scenes, %d entries, %d frames, %d warnings, %d scene errors",
		len(p.Scenes), len(p.Entries), total, len(p.Warnings), len(p.SceneErrors))
	return p, nil
}

// clip bounds [start, end) to [lo, hi) and reports whether anything changed.
func clip(start, end, lo, hi int) (int, int, bool) {
	cs, ce := max(start, lo), min(end, hi)
	return cs, ce, cs != start || ce != end
}
