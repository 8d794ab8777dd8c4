// Package storage persists generated artifacts and exposes them through the
// CDN prefix.
package storage

import (
	"context"
	"fmt"
	"strings"

	"mediagen/internal/domain"
)

// CacheControl is attached to every artifact. Keys never change content
// except by re-uploading identical bytes for the same job.
const CacheControl = "public, max-age=31536000, immutable"

// ObjectStore puts artifacts and returns their public URL.
type ObjectStore interface {
	// Put overwrites key with data and returns the CDN URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// URL returns the CDN URL of key without touching storage.
	URL(key string) string
}

// ArtifactKey is the key of the main artifact: {kind}s/{subject}/{job}.{ext}.
func ArtifactKey(kind domain.Kind, subjectID, jobID, mime string) string {
	return fmt.Sprintf("%ss/%s/%s%s", kind, keySegment(subjectID), jobID, ExtensionForMIME(mime))
}

// ThumbnailKey is the key of the thumbnail: {kind}s/{subject}/{job}_thumb.jpg.
func ThumbnailKey(kind domain.Kind, subjectID, jobID string) string {
	return fmt.Sprintf("%ss/%s/%s_thumb.jpg", kind, keySegment(subjectID), jobID)
}

// ExtensionForMIME maps a content type to the file extension used in keys.
func ExtensionForMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}

func joinURL(base, key string) string {
	if base == "" {
		return key
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// keySegment keeps subject ids from introducing extra path levels.
func keySegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	if s == "" {
		return "_"
	}
	return s
}
