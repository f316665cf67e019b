package scorer

import (
	"testing"

	"github.com/hubmon/hubmon/internal/prompt"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{"task title tag", "[Task] migrate CI", "", prompt.TypeTask},
		{"feature title tag", "[Request for Features] dark mode", "", prompt.TypeFeature},
		{"test result title", "[Test] login flow test result", "", prompt.TypeTestResult},
		{"test result chinese", "登入 測試結果", "", prompt.TypeTestResult},
		{"bug title tag", "[Bug] crash on save", "", prompt.TypeBug},
		{"todo body", "Cleanup", "## TODO\n- [ ] remove dead code", prompt.TypeTask},
		{"spec body", "Exporter", "## Specification\nsupport CSV", prompt.TypeFeature},
		{"test case body", "Login", "ran the test case on staging", prompt.TypeTestResult},
		{"overview with environment", "Login", "## Issue Overview\n...\n## Test Environment\nmacOS", prompt.TypeTestResult},
		{"default is bug", "Something broke", "it just stopped working", prompt.TypeBug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContentType(tt.title, tt.body); got != tt.want {
				t.Errorf("DetectContentType(%q, %q) = %q, want %q", tt.title, tt.body, got, tt.want)
			}
		})
	}
}
