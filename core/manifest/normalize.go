package manifest

import (
	"regexp"
	"strings"
)

var blobPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/blob/([^/]+)/(.+)$`)

// NormalizeImageURL rewrites a GitHub blob link to its raw content URL.
// Anything else is returned unchanged.
func NormalizeImageURL(ref string) string {
	m := blobPattern.FindStringSubmatch(ref)
	if m == nil {
		return ref
	}
	return "https://raw.githubusercontent.com/" + m[1] + "/" + m[2] + "/" + m[3] + "/" + m[4]
}

// ResolveImage prefers the manifest image over the submitted one. Empty means none.
func ResolveImage(manifestImage, submittedImage string) string {
	for _, ref := range []string{manifestImage, submittedImage} {
		if ref = strings.TrimSpace(ref); ref != "" {
			return NormalizeImageURL(ref)
		}
	}
	return ""
}
