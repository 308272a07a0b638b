package parser

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// DefaultExtensionCandidates are the media extensions a board is expected to serve.
var DefaultExtensionCandidates = []string{"jpg", "jpeg", "png", "gif", "jfif", "webp", "mp4", "webm", "mov"}

// UnknownExtension is used for files whose type could not be determined.
const UnknownExtension = "tmp"

// ExtensionFromContentType maps a Content-Type header to a file extension.
//
// category is the part before the slash ("image", "video", "text"). ok is
// false when the subtype is not among candidates; the category is still
// reported so callers can skip text links.
func ExtensionFromContentType(contentType string, candidates []string) (ext, category string, ok bool) {
	if contentType == "" {
		return "", "", false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	category, subtype, found := strings.Cut(mediaType, "/")
	if !found {
		subtype = category
		category = ""
	}

	switch subtype {
	case "quicktime":
		subtype = "mov"
	case "svg+xml":
		subtype = "svg"
	}

	if isCandidate(subtype, candidates) {
		return subtype, category, true
	}
	return subtype, category, false
}

// ExtensionFromURL takes the extension from the last path element of rawURL
// when it is one of candidates.
func ExtensionFromURL(rawURL string, candidates []string) (string, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "" {
		return "", false
	}
	if isCandidate(ext, candidates) {
		return ext, true
	}
	return "", false
}

func isCandidate(ext string, candidates []string) bool {
	if len(candidates) == 0 {
		candidates = DefaultExtensionCandidates
	}
	for _, c := range candidates {
		if strings.EqualFold(c, ext) {
			return true
		}
	}
	return false
}
