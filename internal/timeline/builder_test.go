package timeline

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/bobarin/montage/internal/models"
)

func dissolve(sec float64) *models.TransitionSpec {
	return &models.TransitionSpec{Type: models.TransitionDissolve, DurationSec: sec}
}

func settings() Settings {
	return Settings{FPS: 30, DefaultTransition: models.TransitionSpec{Type: models.TransitionDissolve, DurationSec: 0.5}}
}

func TestThreeScenesOneSecondTransitions(t *testing.T) {
	scenes := []models.Scene{
		{ID: "a", DurationSec: 5, Outbound: dissolve(1)},
		{ID: "b", DurationSec: 5, Outbound: dissolve(1)},
		{ID: "c", DurationSec: 5},
	}

	layout, err := Build(scenes, settings())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := layout.ContentFrames(); got != 420 {
		t.Fatalf("ContentFrames() = %d, want 420", got)
	}
	want := []SceneRange{
		{SceneID: "a", Index: 0, StartFrame: 0, EndFrame: 150},
		{SceneID: "b", Index: 1, StartFrame: 135, EndFrame: 285},
		{SceneID: "c", Index: 2, StartFrame: 270, EndFrame: 420},
	}
	if !reflect.DeepEqual(layout.Scenes, want) {
		t.Errorf("scenes = %+v, want %+v", layout.Scenes, want)
	}
	for _, b := range layout.Boundaries {
		if b.OverlapFrames != 15 || b.RequestedFrames != 30 || b.Clamped {
			t.Errorf("boundary %+v", b)
		}
	}
	if len(layout.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", layout.Warnings)
	}
}

func TestOverlapIsClamped(t *testing.T) {
	scenes := []models.Scene{
		{ID: "long", DurationSec: 10, Outbound: dissolve(4)},
		{ID: "short", DurationSec: 1},
	}

	layout, err := Build(scenes, settings())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	b := layout.Boundaries[0]
	// 4s = 120 frames -> 60 overlap, bounded by min(300, 30)/2 = 15.
	if b.OverlapFrames != 15 || !b.Clamped {
		t.Fatalf("boundary = %+v, want clamped to 15", b)
	}
	if len(layout.Warnings) != 1 || layout.Warnings[0].Code != WarnTransitionClamped {
		t.Errorf("warnings = %+v", layout.Warnings)
	}
	if layout.ContentFrames() != 300+30-15 {
		t.Errorf("ContentFrames() = %d", layout.ContentFrames())
	}
}

func TestCutHasNoOverlap(t *testing.T) {
	scenes := []models.Scene{
		{ID: "a", DurationSec: 2, Outbound: &models.TransitionSpec{Type: models.TransitionCut, DurationSec: 1}},
		{ID: "b", DurationSec: 2},
	}
	layout, err := Build(scenes, settings())
	if err != nil {
		t.Fatal(err)
	}
	if b := layout.Boundaries[0]; b.OverlapFrames != 0 || b.StartFrame != b.EndFrame {
		t.Errorf("cut boundary = %+v", b)
	}
	if layout.ContentFrames() != 120 {
		t.Errorf("ContentFrames() = %d, want 120", layout.ContentFrames())
	}
}

func TestTransitionResolution(t *testing.T) {
	fade := &models.TransitionSpec{Type: models.TransitionFade, DurationSec: 1}
	whip := &models.TransitionSpec{Type: models.TransitionWhipPan, DurationSec: 0.4, Direction: models.DirectionLeft}

	tests := []struct {
		name     string
		a, b     models.Scene
		want     models.TransitionType
		conflict bool
	}{
		{"default", models.Scene{ID: "a", DurationSec: 3}, models.Scene{ID: "b", DurationSec: 3}, models.TransitionDissolve, false},
		{"inbound", models.Scene{ID: "a", DurationSec: 3}, models.Scene{ID: "b", DurationSec: 3, Inbound: fade}, models.TransitionFade, false},
		{"outbound", models.Scene{ID: "a", DurationSec: 3, Outbound: whip}, models.Scene{ID: "b", DurationSec: 3}, models.TransitionWhipPan, false},
		{"agreeing sides", models.Scene{ID: "a", DurationSec: 3, Outbound: fade}, models.Scene{ID: "b", DurationSec: 3, Inbound: fade}, models.TransitionFade, false},
		{"outbound wins conflict", models.Scene{ID: "a", DurationSec: 3, Outbound: whip}, models.Scene{ID: "b", DurationSec: 3, Inbound: fade}, models.TransitionWhipPan, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := Build([]models.Scene{tt.a, tt.b}, settings())
			if err != nil {
				t.Fatal(err)
			}
			if got := layout.Boundaries[0].Spec.Type; got != tt.want {
				t.Errorf("transition = %s, want %s", got, tt.want)
			}
			hasConflict := len(layout.Warnings) == 1 && layout.Warnings[0].Code == WarnTransitionConflict
			if hasConflict != tt.conflict {
				t.Errorf("warnings = %+v, conflict want %v", layout.Warnings, tt.conflict)
			}
		})
	}
}

func TestBuildConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		scenes []models.Scene
		fps    int
	}{
		{"zero fps", []models.Scene{{ID: "a", DurationSec: 1}}, 0},
		{"no scenes", nil, 30},
		{"zero duration", []models.Scene{{ID: "a", DurationSec: 0}}, 30},
		{"rounds to zero frames", []models.Scene{{ID: "a", DurationSec: 0.01}}, 30},
		{"negative duration", []models.Scene{{ID: "a", DurationSec: -2}}, 30},
		{"duplicate ids", []models.Scene{{ID: "a", DurationSec: 1}, {ID: "a", DurationSec: 1}}, 30},
		{"negative transition", []models.Scene{{ID: "a", DurationSec: 1, Outbound: dissolve(-1)}, {ID: "b", DurationSec: 1}}, 30},
		{"unknown transition", []models.Scene{
			{ID: "a", DurationSec: 1},
			{ID: "b", DurationSec: 1, Inbound: &models.TransitionSpec{Type: "wipe", DurationSec: 0.5}},
		}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings()
			s.FPS = tt.fps
			_, err := Build(tt.scenes, s)
			if !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestUntypedTransitionIsDissolve(t *testing.T) {
	scenes := []models.Scene{
		{ID: "a", DurationSec: 2, Outbound: &models.TransitionSpec{DurationSec: 1}},
		{ID: "b", DurationSec: 2},
	}
	layout, err := Build(scenes, settings())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if b := layout.Boundaries[0]; b.Spec.Type != models.TransitionDissolve || b.OverlapFrames != 15 {
		t.Errorf("boundary = %+v", b)
	}
}

func TestLayoutProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := []models.TransitionType{
		models.TransitionCut, models.TransitionDissolve, models.TransitionFade, models.TransitionLightLeak,
		models.TransitionWhipPan, models.TransitionFilmBurn, models.TransitionSlide, models.TransitionZoom,
	}

	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(8)
		scenes := make([]models.Scene, n)
		for i := range scenes {
			scenes[i] = models.Scene{ID: fmt.Sprintf("s%d", i), DurationSec: 0.1 + rng.Float64()*12}
			if rng.Intn(3) > 0 {
				scenes[i].Outbound = &models.TransitionSpec{Type: types[rng.Intn(len(types))], DurationSec: rng.Float64() * 6}
			}
		}

		layout, err := Build(scenes, settings())
		if err != nil {
			t.Fatalf("iteration %d: Build() error = %v", iter, err)
		}

		if got, want := layout.ContentFrames(), layout.SumSceneFrames()-layout.SumOverlapFrames(); got != want {
			t.Fatalf("iteration %d: content frames %d != %d", iter, got, want)
		}

		for i, r := range layout.Scenes {
			if r.StartFrame > r.EndFrame {
				t.Fatalf("iteration %d: scene %d start %d > end %d", iter, i, r.StartFrame, r.EndFrame)
			}
			if i == 0 {
				continue
			}
			prev := layout.Scenes[i-1]
			b := layout.Boundaries[i-1]
			if overlap := prev.EndFrame - r.StartFrame; overlap != b.OverlapFrames {
				t.Fatalf("iteration %d: boundary %d overlap %d, realized %d", iter, i-1, b.OverlapFrames, overlap)
			}
			if 2*b.OverlapFrames > min(prev.Frames(), r.Frames()) {
				t.Fatalf("iteration %d: overlap %d exceeds half of min(%d, %d)", iter, b.OverlapFrames, prev.Frames(), r.Frames())
			}
			if i >= 2 && layout.Scenes[i-2].EndFrame > r.StartFrame {
				t.Fatalf("iteration %d: non-adjacent scenes %d and %d overlap", iter, i-2, i)
			}
		}

		again, _ := Build(scenes, settings())
		if !reflect.DeepEqual(layout, again) {
			t.Fatalf("iteration %d: Build is not deterministic", iter)
		}
	}
}
