package comfy

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed workflows/*.json
var workflowFS embed.FS

// WorkflowNames lists the embedded workflow templates.
func WorkflowNames() []string {
	entries, err := workflowFS.ReadDir("workflows")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names
}

// WorkflowTemplate returns the raw JSON for a named embedded workflow.
func WorkflowTemplate(name string) (string, error) {
	data, err := workflowFS.ReadFile("workflows/" + name + ".json")
	if err != nil {
		return "", fmt.Errorf("unknown workflow %q: %w", name, err)
	}
	return string(data), nil
}

// ResolveWorkflow combines a workflow template with a parameter map by
// textual substitution of {{key}} placeholders, then re-parses the result.
// The text pass is deliberate: placeholders appear inside numeric fields
// (width, height) as well as string fields, and only literal substitution
// handles both uniformly. Values are JSON-escaped before insertion so a
// prompt containing quotes or backslashes cannot corrupt the document.
func ResolveWorkflow(template string, params map[string]string) (json.RawMessage, error) {
	// The template itself is not valid JSON until bare placeholders in
	// numeric positions are filled in, so validation happens after
	// substitution, not before.
	resolved := template
	for key, value := range params {
		placeholder := "{{" + key + "}}"
		resolved = strings.ReplaceAll(resolved, placeholder, escapeValue(value))
	}

	if rest := findPlaceholder(resolved); rest != "" {
		return nil, fmt.Errorf("workflow has unresolved placeholder %s", rest)
	}

	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(resolved), &parsed); err != nil {
		return nil, fmt.Errorf("substituted workflow is not valid JSON: %w", err)
	}
	return parsed, nil
}

// escapeValue JSON-encodes a string and strips the surrounding quotes, so
// the substituted text is safe inside both quoted and bare positions.
func escapeValue(value string) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		// Marshal of a string cannot fail, but fall back to the raw value
		return value
	}
	return string(encoded[1 : len(encoded)-1])
}

// findPlaceholder returns the first {{...}} token left in the document,
// or "" when all placeholders were substituted.
func findPlaceholder(doc string) string {
	start := strings.Index(doc, "{{")
	if start < 0 {
		return ""
	}
	end := strings.Index(doc[start:], "}}")
	if end < 0 {
		return doc[start:]
	}
	return doc[start : start+end+2]
}
