package parser

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultMaxNameLength is the longest file name stem produced when renaming
// extracted archive entries.
const DefaultMaxNameLength = 50

var (
	prohibitedRe = regexp.MustCompile(`[/\\:*?"<>|.\s]+`)
	dashRunRe    = regexp.MustCompile(`-{2,}`)
	digitsRe     = regexp.MustCompile(`^\d+$`)
)

// SanitizeName turns an article title into something usable as a file name.
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	s = prohibitedRe.ReplaceAllString(s, "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// TruncateName shortens the stem of name to at most max runes while keeping
// the extension intact.
func TruncateName(name string, max int) string {
	if max <= 0 {
		max = DefaultMaxNameLength
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if utf8.RuneCountInString(stem) <= max {
		return name
	}
	runes := []rune(stem)
	return string(runes[:max]) + ext
}

// SplitOnLast splits s around the last occurrence of sep. When sep is not
// present, head is empty and tail is s.
func SplitOnLast(s, sep string) (head, tail string) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+len(sep):]
}

// DocumentID extracts the identifier of an article from its URL.
//
// With a pattern, the first capture group (or the whole match) is used.
// Otherwise a numeric query value wins, then the last path segment.
func DocumentID(articleURL, pattern string) (string, error) {
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", fmt.Errorf("invalid document id pattern: %w", err)
		}
		m := re.FindStringSubmatch(articleURL)
		if m == nil {
			return "", fmt.Errorf("document id pattern %q did not match %s", pattern, articleURL)
		}
		if len(m) > 1 {
			return m[1], nil
		}
		return m[0], nil
	}

	u, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("invalid article url: %w", err)
	}

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := query.Get(k); digitsRe.MatchString(v) {
			return v, nil
		}
	}

	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "" || segment == "." || segment == "/" {
		return "", fmt.Errorf("no document id in %s", articleURL)
	}
	return SanitizeName(segment), nil
}

// LocalName builds the base file name of an article: the sanitized title,
// the document id and the board tag. An empty title leaves just the id.
func LocalName(title, docID, tag string) string {
	name := SanitizeName(title)
	if name == "" {
		return docID + tag
	}
	return name + "-" + docID + tag
}

// MatchesAny reports whether s contains any of the patterns.
func MatchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
