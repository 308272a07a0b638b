package cf

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly"

	"boardcrawl/logging"
)

// DecompressResponse decompresses a gzip or Brotli colly response body in
// place. Some boards send compressed bodies even when the client did not
// negotiate them, so magic bytes are checked as well as Content-Encoding.
//
// Example usage:
//
//	c.OnResponse(func(r *colly.Response) {
//	    if _, err := cf.DecompressResponse(r); err != nil {
//	        return
//	    }
//	    // Continue with normal response processing...
//	})
func DecompressResponse(r *colly.Response) (bool, error) {
	if r == nil || len(r.Body) == 0 {
		return false, nil
	}

	encoding := ""
	if r.Headers != nil {
		encoding = r.Headers.Get("Content-Encoding")
	}

	originalSize := len(r.Body)
	body, decompressed, err := DecompressResponseBody(r.Body, encoding)
	if err != nil {
		return false, err
	}
	if decompressed {
		r.Body = body
		logging.For("CF").Debugf("✓ Decompressed body: %d bytes → %d bytes", originalSize, len(body))
	}
	return decompressed, nil
}

// DecompressResponseBody returns the decompressed body without touching
// the original slice. The bool reports whether decompression happened.
func DecompressResponseBody(body []byte, contentEncoding string) ([]byte, bool, error) {
	if len(body) == 0 {
		return body, false, nil
	}

	// gzip magic bytes
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, err
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, false, err
		}
		return decompressed, true, nil
	}

	// Brotli has no magic bytes; trust the header, or guess from the first byte
	if contentEncoding == "br" || body[0] >= 0x80 && body[0] <= 0x8f {
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			// Not Brotli after all
			return body, false, nil
		}
		return decompressed, true, nil
	}

	return body, false, nil
}
