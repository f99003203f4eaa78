package ollama

import (
	"fmt"
	"strings"
	"time"
)

// Model is one entry in the server's model catalog.
type Model struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	ModifiedAt time.Time    `json:"modified_at"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails carries the server's metadata about a model build.
type ModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// SizeHuman renders the model size in binary units.
func (m Model) SizeHuman() string {
	const unit = 1024
	if m.Size < unit {
		return fmt.Sprintf("%d B", m.Size)
	}
	div, exp := int64(unit), 0
	for n := m.Size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(m.Size)/float64(div), "KMGTPE"[exp])
}

// visionFamilies are model name fragments that indicate multimodal
// image-understanding support. The catalog API does not expose a
// capability flag, so the name is the only signal available.
var visionFamilies = []string{
	"llava",
	"bakllava",
	"moondream",
	"minicpm-v",
	"llama3.2-vision",
	"vision",
}

// IsVision reports whether the model can accept image inputs, judged by
// its name.
func (m Model) IsVision() bool {
	name := strings.ToLower(m.Name)
	for _, fragment := range visionFamilies {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}

// PullProgress is one update from a streaming model download.
type PullProgress struct {
	Status         string
	Completed      int64
	Total          int64
	BytesPerSecond float64
}

// Percent returns download completion in whole percents, or 0 when the
// total is not yet known.
func (p PullProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(p.Completed * 100 / p.Total)
}
