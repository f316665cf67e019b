package copier

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)
	htmlImageRe     = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
	attachmentRe    = regexp.MustCompile(`https://github\.com/\S+?/files/`)

	// A bare issue reference: "#<n>" not preceded by a word character (which
	// would make it part of a qualified "owner/repo#n" reference) and not
	// preceded by "/" (a URL path ending in a fragment).
	bareIssueRefRe = regexp.MustCompile(`(^|[^\w/])#(\d+)`)
)

// ExtractImageURLs returns the image URLs in a Markdown/HTML body that need
// re-hosting, in order of first appearance, deduplicated. Images already
// served from GitHub are left alone.
func ExtractImageURLs(text string) []string {
	var urls []string
	seen := map[string]struct{}{}

	add := func(raw string) {
		if _, ok := seen[raw]; ok {
			return
		}
		seen[raw] = struct{}{}
		if githubHosted(raw) {
			return
		}
		urls = append(urls, raw)
	}

	for _, m := range markdownImageRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range htmlImageRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return urls
}

func githubHosted(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "github.com" ||
		strings.HasSuffix(host, ".github.com") ||
		host == "githubusercontent.com" ||
		strings.HasSuffix(host, ".githubusercontent.com")
}

// ImageFilename derives a stable filename for a re-hosted image from its
// URL: the last path segment when it carries an extension, otherwise a name
// hashed from the full URL so repeated runs pick the same path.
func ImageFilename(raw string) string {
	name := ""
	if u, err := url.Parse(raw); err == nil {
		name = path.Base(u.Path)
	}
	if name != "" && name != "." && name != "/" && strings.Contains(name, ".") {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(raw))
	return fmt.Sprintf("image-%08x.png", h.Sum32())
}

// RewriteIssueRefs qualifies bare "#n" references with the source repo so
// they still resolve after the body is copied into another repository.
// Already-qualified references ("owner/repo#n") and URL fragments are left
// untouched.
func RewriteIssueRefs(body, sourceRepo string) string {
	if sourceRepo == "" {
		return body
	}
	return bareIssueRefRe.ReplaceAllString(body, "${1}"+sourceRepo+"#${2}")
}

// HasMedia reports whether a body carries images or GitHub file attachments.
// Mirrored comments with media get a notice pointing readers at the source,
// since attachments behind authenticated URLs cannot always be re-hosted.
func HasMedia(text string) bool {
	return markdownImageRe.MatchString(text) ||
		htmlImageRe.MatchString(text) ||
		attachmentRe.MatchString(text)
}
