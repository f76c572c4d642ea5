package plan

import (
	"fmt"

	"github.com/bobarin/montage/internal/models"
)

// Validate checks a finished plan against the frame and audio invariants.
// Every failure wraps models.ErrTimelineInvariant.
func Validate(p *models.RenderPlan) error {
	md := p.Metadata
	if md.FPS <= 0 || md.TotalFrames <= 0 {
		return violation("metadata fps %d, total frames %d", md.FPS, md.TotalFrames)
	}

	ids := make(map[string]bool, len(p.Entries))
	var videos []models.TimelineEntry
	transitions := make(map[string]models.TimelineEntry)
	endCards := 0

	for _, e := range p.Entries {
		if ids[e.ID] {
			return violation("duplicate entry id %s", e.ID)
		}
		ids[e.ID] = true

		if e.StartFrame > e.EndFrame {
			return violation("entry %s starts at %d after it ends at %d", e.ID, e.StartFrame, e.EndFrame)
		}
		if e.StartFrame < 0 || e.EndFrame > md.TotalFrames {
			return violation("entry %s [%d, %d) outside [0, %d)", e.ID, e.StartFrame, e.EndFrame, md.TotalFrames)
		}

		switch e.Layer {
		case models.LayerVideo:
			videos = append(videos, e)
		case models.LayerTransition:
			if e.Transition == nil {
				return violation("transition entry %s has no parameters", e.ID)
			}
			transitions[e.Transition.FromSceneID] = e
		case models.LayerAudio:
			if e.Audio == nil {
				return violation("audio entry %s has no parameters", e.ID)
			}
			if err := validateEnvelope(e.Audio.Envelope, md.TotalFrames); err != nil {
				return err
			}
		case models.LayerEndCard:
			endCards++
			if e.EndFrame != md.TotalFrames || e.EndFrame-e.StartFrame != md.EndCardFrames {
				return violation("end card [%d, %d) does not close the plan", e.StartFrame, e.EndFrame)
			}
		}
	}

	if len(videos) == 0 {
		return violation("plan has no scene entries")
	}
	if len(videos) != len(p.Scenes) {
		return violation("%d scene entries for %d scenes", len(videos), len(p.Scenes))
	}
	if md.EndCardFrames > 0 && endCards != 1 {
		return violation("end card of %d frames has %d entries", md.EndCardFrames, endCards)
	}

	sceneFrames, overlapFrames := 0, 0
	for i, v := range videos {
		sceneFrames += v.EndFrame - v.StartFrame
		if i == 0 {
			if v.StartFrame != 0 {
				return violation("first scene starts at %d", v.StartFrame)
			}
			continue
		}

		prev := videos[i-1]
		overlap := prev.EndFrame - v.StartFrame
		if overlap < 0 {
			return violation("gap of %d frames between %s and %s", -overlap, prev.SceneID, v.SceneID)
		}
		limit := min(prev.EndFrame-prev.StartFrame, v.EndFrame-v.StartFrame) / 2
		if overlap > limit {
			return violation("overlap %d between %s and %s exceeds %d", overlap, prev.SceneID, v.SceneID, limit)
		}
		if i >= 2 && videos[i-2].EndFrame > v.StartFrame {
			return violation("non-adjacent scenes %s and %s overlap", videos[i-2].SceneID, v.SceneID)
		}
		if overlap > 0 {
			tr, ok := transitions[prev.SceneID]
			if !ok || tr.StartFrame != v.StartFrame || tr.EndFrame != prev.EndFrame {
				return violation("overlap between %s and %s is outside a transition window", prev.SceneID, v.SceneID)
			}
		}
		overlapFrames += overlap
	}

	if want := sceneFrames - overlapFrames + md.EndCardFrames; md.TotalFrames != want {
		return violation("total frames %d != %d scene - %d overlap + %d end card", md.TotalFrames, sceneFrames, overlapFrames, md.EndCardFrames)
	}
	return nil
}

func validateEnvelope(env *models.AudioEnvelope, totalFrames int) error {
	if env == nil {
		return nil
	}
	for i, kf := range env.Keyframes {
		if kf.Frame < 0 || kf.Frame > totalFrames {
			return violation("envelope %s keyframe at frame %d outside [0, %d]", env.TrackID, kf.Frame, totalFrames)
		}
		if kf.Volume < 0 || kf.Volume > 1 {
			return violation("envelope %s volume %v at frame %d out of [0, 1]", env.TrackID, kf.Volume, kf.Frame)
		}
		if i > 0 && kf.Frame < env.Keyframes[i-1].Frame {
			return violation("envelope %s keyframes out of order at frame %d", env.TrackID, kf.Frame)
		}
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrTimelineInvariant, fmt.Sprintf(format, args...))
}
