package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

// DetectImageFormat reads the magic bytes and returns the image format string
func DetectImageFormat(data []byte) (string, error) {
	if len(data) < 12 {
		return "", errors.New("data too short to determine format")
	}

	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg", nil
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "png", nil
	}
	if string(data[0:6]) == "GIF87a" || string(data[0:6]) == "GIF89a" {
		return "gif", nil
	}
	if string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "webp", nil
	}

	return "", errors.New("unknown image format")
}

// DetectFileFormat sniffs the image format of the file at path.
func DetectFileFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 12)
	if _, err := io.ReadFull(f, head); err != nil {
		return "", fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return DetectImageFormat(head)
}

// IsWebP reports whether path looks like a WebP file, either by extension
// or by content.
func IsWebP(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		return true
	}
	format, err := DetectFileFormat(path)
	return err == nil && format == "webp"
}

// ConvertWebPToPNG decodes the WebP file at path, writes a PNG next to it
// and removes the original. Returns the path of the new file.
func ConvertWebPToPNG(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("empty image data")
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode webp image: %w", err)
	}

	newPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	if err := imaging.Save(img, newPath); err != nil {
		return "", fmt.Errorf("failed to save png: %w", err)
	}

	if newPath != path {
		if err := os.Remove(path); err != nil {
			return newPath, fmt.Errorf("converted but failed to remove %s: %w", path, err)
		}
	}

	return newPath, nil
}

// ConvertWebPInDir converts every WebP file directly inside dir to PNG and
// returns how many were converted. Files that fail to decode are left alone.
func ConvertWebPInDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	converted := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !IsWebP(path) {
			continue
		}
		if _, err := ConvertWebPToPNG(path); err != nil {
			errs = append(errs, err)
			continue
		}
		converted++
	}

	return converted, errors.Join(errs...)
}
