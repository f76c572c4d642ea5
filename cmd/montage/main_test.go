package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobarin/montage/internal/models"
)

const threeScenes = `title: launch
scenes:
  - id: intro
    duration_sec: 5
    content_type: video
    narration:
      offset_sec: 1
      duration_sec: 2
  - id: product
    duration_sec: 5
    content_type: video
    overlays:
      - id: headline
        text: Meet Montage
        end_sec: 2
  - id: outro
    duration_sec: 5
    content_type: image
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadProduction(t *testing.T) {
	prod, err := loadProduction(writeFile(t, "prod.yaml", threeScenes))
	if err != nil {
		t.Fatalf("loadProduction() error = %v", err)
	}
	if len(prod.Scenes) != 3 || prod.Scenes[0].Narration == nil || prod.Scenes[1].Overlays[0].Text != "Meet Montage" {
		t.Errorf("production = %+v", prod)
	}
	if prod.Scenes[2].ContentType != models.ContentImage {
		t.Errorf("content type = %q", prod.Scenes[2].ContentType)
	}

	// JSON is valid YAML
	prod, err = loadProduction(writeFile(t, "prod.json", `{"scenes":[{"id":"a","duration_sec":4}]}`))
	if err != nil || len(prod.Scenes) != 1 || prod.Scenes[0].DurationSec != 4 {
		t.Errorf("json production = %+v, %v", prod, err)
	}

	if _, err := loadProduction(writeFile(t, "empty.yaml", "title: nothing\n")); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("empty production: err = %v", err)
	}
	if _, err := loadProduction(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLayoutCommand(t *testing.T) {
	path := writeFile(t, "prod.yaml", threeScenes)

	out, err := execute(t, "layout", path, "--transition-sec", "1")
	if err != nil {
		t.Fatalf("layout error = %v", err)
	}
	for _, want := range []string{"intro", "product > outro", "Total: 420 frames at 30 fps (450 scene frames - 30 overlap)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "layout", path, "--transition", "cut")
	if err != nil {
		t.Fatalf("layout error = %v", err)
	}
	if !strings.Contains(out, "Total: 450 frames") {
		t.Errorf("cut layout:\n%s", out)
	}
}

func TestLayoutCommandRejectsZeroFrameScene(t *testing.T) {
	path := writeFile(t, "prod.yaml", "scenes:\n  - id: a\n    duration_sec: 0.01\n")
	if _, err := execute(t, "layout", path); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestProvidersCommand(t *testing.T) {
	out, err := execute(t, "providers")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"veo", "xai", "openai-image"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	table := writeFile(t, "providers.yaml", `providers:
  - id: fast-video
    kind: xai
    styles: ["*"]
    content_types: [video]
    max_duration_sec: 10
    quality_tier: 1
    relative_cost: 1
    reliability: 0.9
`)
	out, err = execute(t, "providers", "--table", table)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "fast-video") || strings.Contains(out, "openai-image") {
		t.Errorf("custom table output:\n%s", out)
	}
}
