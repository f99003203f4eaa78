package comfy

import (
	"encoding/json"
	"strings"
	"testing"
)

const testTemplate = `{
	"1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "{{model}}"}},
	"2": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{prompt}}"}},
	"3": {"class_type": "EmptyLatentImage", "inputs": {"width": {{width}}, "height": {{height}}}}
}`

func TestResolveWorkflowSubstitutesAllFields(t *testing.T) {
	resolved, err := ResolveWorkflow(testTemplate, map[string]string{
		"model":  "sdxl.safetensors",
		"prompt": "a nebula over mountains",
		"width":  "5120",
		"height": "2160",
	})
	if err != nil {
		t.Fatalf("ResolveWorkflow failed: %v", err)
	}

	var doc map[string]struct {
		ClassType string                 `json:"class_type"`
		Inputs    map[string]interface{} `json:"inputs"`
	}
	if err := json.Unmarshal(resolved, &doc); err != nil {
		t.Fatalf("resolved workflow is not valid JSON: %v", err)
	}

	if got := doc["1"].Inputs["ckpt_name"]; got != "sdxl.safetensors" {
		t.Errorf("ckpt_name = %v, want sdxl.safetensors", got)
	}
	if got := doc["2"].Inputs["text"]; got != "a nebula over mountains" {
		t.Errorf("text = %v, want the prompt", got)
	}
	// Bare placeholders must land as JSON numbers, not strings
	if got := doc["3"].Inputs["width"]; got != float64(5120) {
		t.Errorf("width = %v (%T), want number 5120", got, got)
	}
	if got := doc["3"].Inputs["height"]; got != float64(2160) {
		t.Errorf("height = %v (%T), want number 2160", got, got)
	}
}

func TestResolveWorkflowEscapesMetacharacters(t *testing.T) {
	template := `{"1": {"inputs": {"text": "{{prompt}}"}}}`
	prompt := `a "quoted" prompt with \ backslash
and a newline`

	resolved, err := ResolveWorkflow(template, map[string]string{"prompt": prompt})
	if err != nil {
		t.Fatalf("ResolveWorkflow failed: %v", err)
	}

	var doc map[string]struct {
		Inputs map[string]string `json:"inputs"`
	}
	if err := json.Unmarshal(resolved, &doc); err != nil {
		t.Fatalf("resolved workflow is not valid JSON: %v", err)
	}
	if got := doc["1"].Inputs["text"]; got != prompt {
		t.Errorf("round-tripped prompt = %q, want %q", got, prompt)
	}
}

func TestResolveWorkflowRejectsUnresolvedPlaceholder(t *testing.T) {
	template := `{"1": {"inputs": {"text": "{{prompt}}", "seed": "{{seed}}"}}}`

	_, err := ResolveWorkflow(template, map[string]string{"prompt": "hello"})
	if err == nil {
		t.Fatal("expected error for unresolved placeholder, got nil")
	}
	if !strings.Contains(err.Error(), "{{seed}}") {
		t.Errorf("error %q should name the leftover placeholder", err)
	}
}

func TestResolveWorkflowRejectsInvalidTemplate(t *testing.T) {
	if _, err := ResolveWorkflow(`{not json`, nil); err == nil {
		t.Fatal("expected error for invalid template JSON, got nil")
	}
}

func TestEmbeddedWorkflowsAreValidTemplates(t *testing.T) {
	names := WorkflowNames()
	if len(names) == 0 {
		t.Fatal("no embedded workflows found")
	}
	for _, name := range names {
		template, err := WorkflowTemplate(name)
		if err != nil {
			t.Fatalf("WorkflowTemplate(%q) failed: %v", name, err)
		}
		if findPlaceholder(template) == "" {
			t.Errorf("workflow %q has no placeholders; expected a template", name)
		}
	}
}

func TestWorkflowTemplateUnknownName(t *testing.T) {
	if _, err := WorkflowTemplate("does_not_exist"); err == nil {
		t.Fatal("expected error for unknown workflow name, got nil")
	}
}

func TestFindPlaceholder(t *testing.T) {
	cases := []struct {
		doc  string
		want string
	}{
		{`{"a": 1}`, ""},
		{`{"a": "{{model}}"}`, "{{model}}"},
		{`{"a": "{{broken`, "{{broken"},
	}
	for _, tc := range cases {
		if got := findPlaceholder(tc.doc); got != tc.want {
			t.Errorf("findPlaceholder(%q) = %q, want %q", tc.doc, got, tc.want)
		}
	}
}
