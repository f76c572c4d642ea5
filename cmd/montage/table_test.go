package main

import (
	"strings"
	"testing"

	"github.com/bobarin/montage/internal/models"
)

func TestRenderTable(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}); out != "" {
		t.Errorf("no columns rendered %q", out)
	}

	columns := []column{{title: "Scene"}, {title: "Frames", numeric: true}}
	out := renderTable(columns, [][]string{{"intro", "150"}, {"outro"}, {"extra", "9", "dropped"}}, "", "sum 159")
	for _, want := range []string{"intro", "outro", "sum 159"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "dropped") {
		t.Errorf("cell beyond the last column rendered:\n%s", out)
	}

	// Right alignment pads numbers on the left
	if !strings.Contains(out, "     9 ") {
		t.Errorf("numeric column not right aligned:\n%s", out)
	}
}

func TestRenderResolutionsTrimsMedia(t *testing.T) {
	long := "https://cdn.example.com/generated/veo/scene-a/" + strings.Repeat("x", 80) + ".mp4"
	out := renderResolutions([]models.SceneResolution{
		{SceneID: "a", Outcome: models.OutcomeResolvedPrimary, Task: models.GenerationTask{Attempts: 1}, Media: models.MediaRef{URI: long, Provider: "veo"}},
		{SceneID: "b", Outcome: models.OutcomePlaceholderFailed, Task: models.GenerationTask{Attempts: 3}, Media: models.MediaRef{URI: "placeholder://scene/b", Placeholder: true}},
	})

	if strings.Contains(out, long) {
		t.Errorf("long media URI not trimmed:\n%s", out)
	}
	if !strings.Contains(out, long[:mediaWidth]) || !strings.Contains(out, "placeholder://scene/b") {
		t.Errorf("media column:\n%s", out)
	}
	if !strings.Contains(out, "| -") && !strings.Contains(out, "│ -") {
		t.Errorf("missing provider placeholder:\n%s", out)
	}
}
