package parser

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// DecodeHTML converts an HTML body to UTF-8.
//
// A charset from the Content-Type header (or a BOM) is trusted. Otherwise a
// body that is already valid UTF-8 is returned unchanged, and anything else
// is decoded using the <meta> declaration or content sniffing.
func DecodeHTML(body []byte, contentType string) (string, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return string(body), nil
	}
	if !certain && utf8.Valid(body) {
		return string(body), nil
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("failed to decode body as %s: %w", name, err)
	}
	return string(decoded), nil
}
