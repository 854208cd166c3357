package media

import (
	"path"
	"regexp"
	"strings"
)

var fileSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFileName converts an arbitrary candidate name into a filesystem and
// URL safe file name, appending an extension inferred from the media type when
// the name has none.
func SanitizeFileName(candidate, mediaType string) string {
	name := strings.TrimSpace(candidate)
	if name == "" {
		return ""
	}
	name = path.Base(name)
	name = fileSanitizer.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._-")
	if name == "" {
		return ""
	}
	if idx := strings.LastIndex(name, "."); idx == -1 {
		if ext := InferExtension(mediaType); ext != "" {
			name = name + "." + ext
		}
	}
	return name
}

// RenameExt replaces name's extension with ext (without a leading dot). A
// name without an extension gets one appended.
func RenameExt(name, ext string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// InferExtension attempts to infer a suitable extension based on the media type.
func InferExtension(mediaType string) string {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return ""
	}
}
