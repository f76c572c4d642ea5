// Package timeline lays scenes out on an absolute frame axis and computes
// per-frame transition blend parameters.
//
// Frame ranges are half-open: a scene occupies [StartFrame, EndFrame). A
// transition of T frames overlaps the two scenes it joins by T/2 frames, so
// the next scene starts T/2 frames before the previous one ends.
package timeline

import (
	"fmt"
	"log"
	"math"

	"github.com/bobarin/montage/internal/models"
)

// Warning codes
const (
	WarnTransitionClamped  = "transition_clamped"
	WarnTransitionConflict = "transition_conflict"
)

type Settings struct {
	FPS               int
	DefaultTransition models.TransitionSpec
}

type SceneRange struct {
	SceneID    string `json:"scene_id"`
	Index      int    `json:"index"`
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
}

func (r SceneRange) Frames() int {
	return r.EndFrame - r.StartFrame
}

// Boundary is the realized transition between scene i and i+1. The overlap
// window is [StartFrame, EndFrame) and is empty for cuts.
type Boundary struct {
	FromSceneID     string                `json:"from_scene_id"`
	ToSceneID       string                `json:"to_scene_id"`
	Spec            models.TransitionSpec `json:"spec"`
	RequestedFrames int                   `json:"requested_frames"`
	OverlapFrames   int                   `json:"overlap_frames"`
	StartFrame      int                   `json:"start_frame"`
	EndFrame        int                   `json:"end_frame"`
	Clamped         bool                  `json:"clamped,omitempty"`
}

type Layout struct {
	FPS        int              `json:"fps"`
	Scenes     []SceneRange     `json:"scenes"`
	Boundaries []Boundary       `json:"boundaries"`
	Warnings   []models.Warning `json:"warnings,omitempty"`
}

// ContentFrames is the frame count from the first scene start to the last
// scene end.
func (l Layout) ContentFrames() int {
	if len(l.Scenes) == 0 {
		return 0
	}
	return l.Scenes[len(l.Scenes)-1].EndFrame
}

// SumSceneFrames and SumOverlapFrames are the two sides of the frame count
// identity: ContentFrames == SumSceneFrames - SumOverlapFrames.
func (l Layout) SumSceneFrames() int {
	total := 0
	for _, s := range l.Scenes {
		total += s.Frames()
	}
	return total
}

func (l Layout) SumOverlapFrames() int {
	total := 0
	for _, b := range l.Boundaries {
		total += b.OverlapFrames
	}
	return total
}

// SecondsToFrames rounds to the nearest frame.
func SecondsToFrames(sec float64, fps int) int {
	return int(math.Round(sec * float64(fps)))
}

// Build computes scene frame ranges and transition windows. Excess overlap is
// clamped with a warning; a scene that rounds to zero frames or less is a
// configuration error.
func Build(scenes []models.Scene, s Settings) (Layout, error) {
	if s.FPS <= 0 {
		return Layout{}, models.ConfigError("fps must be positive, got %d", s.FPS)
	}
	if len(scenes) == 0 {
		return Layout{}, models.ConfigError("no scenes to lay out")
	}

	layout := Layout{
		FPS:        s.FPS,
		Scenes:     make([]SceneRange, len(scenes)),
		Boundaries: make([]Boundary, 0, len(scenes)-1),
	}

	frames := make([]int, len(scenes))
	seen := make(map[string]bool, len(scenes))
	for i, sc := range scenes {
		if sc.ID == "" {
			return Layout{}, models.ConfigError("scene %d has no id", i)
		}
		if seen[sc.ID] {
			return Layout{}, models.ConfigError("duplicate scene id %q", sc.ID)
		}
		seen[sc.ID] = true

		frames[i] = SecondsToFrames(sc.DurationSec, s.FPS)
		if frames[i] <= 0 {
			return Layout{}, models.ConfigError("scene %s: duration %.3fs is %d frames at %d fps", sc.ID, sc.DurationSec, frames[i], s.FPS)
		}
	}

	start := 0
	for i, sc := range scenes {
		end := start + frames[i]
		layout.Scenes[i] = SceneRange{SceneID: sc.ID, Index: i, StartFrame: start, EndFrame: end}

		if i == len(scenes)-1 {
			break
		}

		next := scenes[i+1]
		spec, conflict := resolveTransition(sc, next, s.DefaultTransition)
		if conflict {
			layout.Warnings = append(layout.Warnings, models.Warning{
				Code:    WarnTransitionConflict,
				SceneID: sc.ID,
				Message: fmt.Sprintf("outbound %s of %s overrides inbound %s of %s", sc.Outbound.Type, sc.ID, next.Inbound.Type, next.ID),
			})
		}
		if spec.DurationSec < 0 {
			return Layout{}, models.ConfigError("transition %s -> %s: negative duration %.3fs", sc.ID, next.ID, spec.DurationSec)
		}
		if spec.Type == "" {
			spec.Type = models.TransitionDissolve
		}
		if !spec.Type.Valid() {
			return Layout{}, models.ConfigError("transition %s -> %s: unknown type %q", sc.ID, next.ID, spec.Type)
		}

		b := Boundary{FromSceneID: sc.ID, ToSceneID: next.ID, Spec: spec}
		if spec.Type != models.TransitionCut {
			b.RequestedFrames = SecondsToFrames(spec.DurationSec, s.FPS)
			b.OverlapFrames = b.RequestedFrames / 2
		}

		maxOverlap := min(frames[i], frames[i+1]) / 2
		if b.OverlapFrames > maxOverlap {
			log.Printf("[Timeline] Clamping %s transition %s -> %s from %d to %d overlap frames", spec.Type, sc.ID, next.ID, b.OverlapFrames, maxOverlap)
			layout.Warnings = append(layout.Warnings, models.Warning{
				Code:    WarnTransitionClamped,
				SceneID: sc.ID,
				Message: fmt.Sprintf("%s transition %s -> %s overlap %d frames exceeds %d, clamped", spec.Type, sc.ID, next.ID, b.OverlapFrames, maxOverlap),
			})
			b.OverlapFrames = maxOverlap
			b.Clamped = true
		}

		b.StartFrame = end - b.OverlapFrames
		b.EndFrame = end
		layout.Boundaries = append(layout.Boundaries, b)
		start = b.StartFrame
	}

	return layout, nil
}

// resolveTransition picks the spec for the boundary after scene a: a's
// outbound, else b's inbound, else the default. conflict reports that both
// sides were set and disagree.
func resolveTransition(a, b models.Scene, def models.TransitionSpec) (models.TransitionSpec, bool) {
	switch {
	case a.Outbound != nil:
		conflict := b.Inbound != nil && *b.Inbound != *a.Outbound
		return *a.Outbound, conflict
	case b.Inbound != nil:
		return *b.Inbound, false
	default:
		return def, false
	}
}
