// Package media carries the in-memory image values shared by the ingestion
// stages, plus MIME sniffing and naming helpers. Importing it registers every
// decoder the pipeline accepts, webp included.
package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// File is an image candidate flowing through the pipeline. Data is the full
// payload; MIME is sniffed from the payload, never trusted from the name.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Info describes a decoded image header.
type Info struct {
	Width  int
	Height int
	Format string
}

// Load reads a file from disk and sniffs its MIME type.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return FromBytes(filepath.Base(path), data), nil
}

// FromBytes wraps an in-memory payload, sniffing its MIME type.
func FromBytes(name string, data []byte) *File {
	return &File{
		Name: name,
		MIME: DetectMIME(data),
		Data: data,
	}
}

// Size returns the payload size in bytes.
func (f *File) Size() int64 {
	return int64(len(f.Data))
}

// Ext returns the extension matching the sniffed type, falling back to the
// file name.
func (f *File) Ext() string {
	if ext := InferExtension(f.MIME); ext != "" {
		return ext
	}
	return strings.TrimPrefix(filepath.Ext(f.Name), ".")
}

// imageSignatures maps formats to their leading magic bytes.
var imageSignatures = map[string][]byte{
	"image/jpeg": {0xFF, 0xD8, 0xFF},
	"image/png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"image/gif":  []byte("GIF8"),
	"image/webp": []byte("RIFF"),
	"image/bmp":  {0x42, 0x4D},
}

// DetectMIME sniffs the payload type, preferring the image signature table and
// falling back to net/http content detection.
func DetectMIME(data []byte) string {
	for mime, sig := range imageSignatures {
		if len(data) < len(sig) || !bytesHavePrefix(data, sig) {
			continue
		}
		// RIFF containers are only webp when the format tag follows.
		if mime == "image/webp" {
			if len(data) >= 12 && string(data[8:12]) == "WEBP" {
				return mime
			}
			continue
		}
		return mime
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}

// IsImage reports whether a sniffed MIME type is an image type.
func IsImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

func bytesHavePrefix(data, prefix []byte) bool {
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}

// FormatBytes renders a byte count the way notifications cite sizes:
// 512B, 100KB, 1.2MB. Exact multiples drop the decimal.
func FormatBytes(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	format := func(value float64, unit string) string {
		rounded := float64(int64(value*10+0.5)) / 10
		if rounded == float64(int64(rounded)) {
			return fmt.Sprintf("%d%s", int64(rounded), unit)
		}
		return fmt.Sprintf("%.1f%s", rounded, unit)
	}
	switch {
	case n >= gb:
		return format(float64(n)/gb, "GB")
	case n >= mb:
		return format(float64(n)/mb, "MB")
	case n >= kb:
		return format(float64(n)/kb, "KB")
	default:
		return fmt.Sprintf("%dB", n)
	}
}
