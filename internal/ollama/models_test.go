package ollama

import "testing"

func TestSizeHuman(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{2019393189, "1.9 GB"},
		{4733363377, "4.4 GB"},
	}
	for _, tc := range cases {
		m := Model{Size: tc.size}
		if got := m.SizeHuman(); got != tc.want {
			t.Errorf("SizeHuman(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

func TestIsVision(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"llava:7b", true},
		{"bakllava:latest", true},
		{"moondream:latest", true},
		{"minicpm-v:8b", true},
		{"llama3.2-vision:11b", true},
		{"llama3.2:3b", false},
		{"qwen2.5-coder:7b", false},
		{"mistral:7b", false},
	}
	for _, tc := range cases {
		m := Model{Name: tc.name}
		if got := m.IsVision(); got != tc.want {
			t.Errorf("IsVision(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPullProgressPercent(t *testing.T) {
	if got := (PullProgress{Completed: 250, Total: 1000}).Percent(); got != 25 {
		t.Errorf("Percent = %d, want 25", got)
	}
	if got := (PullProgress{Completed: 10}).Percent(); got != 0 {
		t.Errorf("Percent with unknown total = %d, want 0", got)
	}
}
