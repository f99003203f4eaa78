package presets

import (
	"os"
	"path/filepath"
	"testing"
)

func writePreset(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirSortsAndFiltersFiles(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "space.yaml", "workflow: img2img_sdxl\nmodel: sdxl\nprompt: a nebula\n")
	writePreset(t, dir, "canyon.yml", "workflow: controlnet_depth\nmodel: sdxl\nprompt: a canyon\n")
	writePreset(t, dir, "notes.txt", "not a preset")

	presets, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("got %d presets, want 2", len(presets))
	}
	if presets[0].Name != "canyon" || presets[1].Name != "space" {
		t.Errorf("order = %s, %s; want canyon, space", presets[0].Name, presets[1].Name)
	}
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	presets, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if len(presets) != 0 {
		t.Errorf("got %d presets, want 0", len(presets))
	}
}

func TestLoadFileNameFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "dusk.yaml", "workflow: img2img_sdxl\nprompt: dusk over water\n")

	preset, err := LoadFile(filepath.Join(dir, "dusk.yaml"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if preset.Name != "dusk" {
		t.Errorf("name = %q, want dusk", preset.Name)
	}
}

func TestLoadFileRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "broken.yaml", "model: sdxl\n")

	if _, err := LoadFile(filepath.Join(dir, "broken.yaml")); err == nil {
		t.Fatal("expected validation error for preset without workflow and prompt")
	}
}

func TestParamsAppliesDefaults(t *testing.T) {
	preset := Preset{
		Name:     "space",
		Workflow: "img2img_sdxl",
		Model:    "sdxl",
		Prompt:   "a nebula",
	}
	params := preset.Params(5120, 2160)
	if params["width"] != "5120" || params["height"] != "2160" {
		t.Errorf("default size not applied: %v", params)
	}

	preset.Width, preset.Height = 1920, 1080
	params = preset.Params(5120, 2160)
	if params["width"] != "1920" || params["height"] != "1080" {
		t.Errorf("explicit size not honored: %v", params)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "presets")
	original := Preset{
		Name:     "space",
		Workflow: "img2img_sdxl",
		Model:    "sdxl",
		Prompt:   "a nebula over mountains",
		Width:    5120,
		Height:   2160,
	}

	path, err := Save(dir, original)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if *loaded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", *loaded, original)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "space.yaml", "workflow: img2img_sdxl\nmodel: sdxl\nprompt: a nebula\n")

	preset, err := Find(dir, "space")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if preset.Prompt != "a nebula" {
		t.Errorf("prompt = %q", preset.Prompt)
	}

	if _, err := Find(dir, "missing"); err == nil {
		t.Error("expected error for unknown preset")
	}
}
