package copier

import (
	"reflect"
	"testing"
)

func TestRewriteIssueRefs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"bare ref qualified, others untouched",
			"See #77 and owner/other#5, http://x#frag",
			"See Acme/src#77 and owner/other#5, http://x#frag",
		},
		{"ref at start", "#12 needs this", "Acme/src#12 needs this"},
		{"ref in parens", "blocked by (#9)", "blocked by (Acme/src#9)"},
		{"multiple refs", "#1 and #2", "Acme/src#1 and Acme/src#2"},
		{"qualified ref untouched", "Acme/src#77 stays", "Acme/src#77 stays"},
		{"url fragment untouched", "see https://example.com/page#123", "see https://example.com/page#123"},
		{"heading untouched", "# Title\ntext", "# Title\ntext"},
		{"no refs", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RewriteIssueRefs(tt.in, "Acme/src"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteIssueRefs_NoSourceRepo(t *testing.T) {
	if got := RewriteIssueRefs("see #5", ""); got != "see #5" {
		t.Errorf("body changed without a source repo: %q", got)
	}
}

func TestExtractImageURLs(t *testing.T) {
	body := "intro\n" +
		"![shot](https://cdn.example.com/a.png)\n" +
		`<img src="https://cdn.example.com/b.jpg" width="400">` + "\n" +
		"![dup](https://cdn.example.com/a.png)\n" +
		"![hosted](https://user-images.githubusercontent.com/1/x.png)\n" +
		"![repo](https://github.com/acme/app/blob/assets/images/c.png?raw=true)\n"

	got := ExtractImageURLs(body)
	want := []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractImageURLs_Empty(t *testing.T) {
	if got := ExtractImageURLs("no images here"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestImageFilename(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/shots/a.png", "a.png"},
		{"https://cdn.example.com/shots/a.png?token=abc", "a.png"},
	}
	for _, tt := range tests {
		if got := ImageFilename(tt.url); got != tt.want {
			t.Errorf("ImageFilename(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}

	// No usable basename: the name is hashed from the URL, so it is stable.
	a := ImageFilename("https://cdn.example.com/render")
	b := ImageFilename("https://cdn.example.com/render")
	if a != b {
		t.Errorf("hashed name not stable: %q vs %q", a, b)
	}
	c := ImageFilename("https://cdn.example.com/other")
	if a == c {
		t.Errorf("distinct URLs got the same name: %q", a)
	}
}

func TestHasMedia(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"markdown image", "look: ![x](https://e.com/a.png)", true},
		{"html image", `<img src="https://e.com/a.png">`, true},
		{"attachment link", "log attached https://github.com/acme/app/files/123/log.txt", true},
		{"plain text", "no media at all", false},
		{"bare link", "see https://example.com/page", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasMedia(tt.body); got != tt.want {
				t.Errorf("HasMedia(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
