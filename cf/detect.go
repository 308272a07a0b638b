package cf

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"

	"boardcrawl/logging"
)

// Info describes an anti-bot challenge page.
type Info struct {
	StatusCode int
	Reason     string
	Indicators []string

	RayID        string
	ServerHeader string
	Turnstile    bool
	IsBIC        bool // Browser Integrity Check
}

// strong indicators are a challenge on their own
var strongChecks = []struct{ substr, reason string }{
	{"cloudflare-browser-verification", "JS browser verification challenge"},
	{"challenge-form", "challenge form"},
	{"cf-chl-", "challenge token"},
	{"attention required", "browser integrity check"},
	{"checking your browser", "browser check"},
	{"verify you are human", "human verification"},
	{"ddos-guard", "DDoS-Guard check"},
}

// weak indicators only count alongside a strong one; many proxied boards
// embed the challenge script on every page for bot scoring
var weakChecks = []struct{ substr, reason string }{
	{"/cdn-cgi/challenge-platform/", "challenge script"},
}

var justAMomentRe = regexp.MustCompile(`(?i)<title[^>]*>[^<]*just a moment[^<]*</title>`)

// Detect inspects the response and reports whether the server answered
// with a challenge instead of content. The body is restored so callers can
// still read it.
func Detect(resp *http.Response) (bool, *Info, error) {
	if resp == nil {
		return false, nil, nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, nil, err
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	return detect(resp.StatusCode, resp.Header, bodyBytes)
}

// DetectFromColly wraps Detect so it can be used directly with colly responses.
func DetectFromColly(r *colly.Response) (bool, *Info, error) {
	if r == nil {
		return false, nil, nil
	}

	header := make(http.Header)
	if r.Headers != nil {
		header = *r.Headers
	}
	return detect(r.StatusCode, header, r.Body)
}

// DetectHTML checks a rendered page, e.g. from a browser session, where no
// status code or headers are available.
func DetectHTML(html string) (bool, *Info) {
	found, info, _ := detect(http.StatusOK, make(http.Header), []byte(html))
	return found, info
}

func detect(status int, header http.Header, bodyBytes []byte) (bool, *Info, error) {
	log := logging.For("CF")
	body := strings.ToLower(string(bodyBytes))

	info := &Info{
		StatusCode:   status,
		Indicators:   []string{},
		ServerHeader: header.Get("Server"),
		RayID:        header.Get("CF-Ray"),
	}

	match := false

	switch status {
	case http.StatusForbidden:
		info.Indicators = append(info.Indicators, "403 Forbidden")
		match = true
	case http.StatusServiceUnavailable:
		info.Indicators = append(info.Indicators, "503 Service Unavailable")
		match = true
	case http.StatusTooManyRequests:
		// rate limited, not a challenge
		info.Indicators = append(info.Indicators, "429 Rate limit")
	}

	for _, cookie := range header.Values("Set-Cookie") {
		if strings.Contains(cookie, "cf_clearance") {
			info.Indicators = append(info.Indicators, "clearance cookie issued")
			match = true
		}
	}

	strongMatch := false
	for _, check := range strongChecks {
		if strings.Contains(body, check.substr) {
			info.Indicators = append(info.Indicators, check.reason)
			match = true
			strongMatch = true
		}
	}

	// "just a moment" only counts inside <title>; comments quote it all the time
	if justAMomentRe.MatchString(body) {
		info.Indicators = append(info.Indicators, "challenge page title")
		match = true
		strongMatch = true
	}

	for _, check := range weakChecks {
		if strings.Contains(body, check.substr) && strongMatch {
			info.Indicators = append(info.Indicators, check.reason)
		}
	}

	if strings.Contains(body, "verify you are human") {
		info.IsBIC = true
	}

	if strings.Contains(body, "cf-turnstile") {
		info.Turnstile = true
		info.Indicators = append(info.Indicators, "Turnstile CAPTCHA")
		match = true
	}

	if !match {
		return false, nil, nil
	}

	info.Reason = "anti-bot challenge detected"
	log.WithFields(logrus.Fields{
		"status":     status,
		"ray":        info.RayID,
		"indicators": strings.Join(info.Indicators, "; "),
	}).Warn("⚠️ challenge detected")

	return true, info, nil
}
