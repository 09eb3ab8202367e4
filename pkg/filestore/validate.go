package filestore

import (
	"errors"
	"fmt"
	"strings"
)

// MaxFileSize caps attachment uploads at 10MB.
const MaxFileSize = 10 << 20

var ErrInvalidFile = errors.New("invalid file")

var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
	"text/csv":   true,
}

// Validate checks an upload's name, declared mime type and size before any
// bytes reach object storage.
func Validate(fileName, mimeType string, size int64) error {
	if strings.TrimSpace(fileName) == "" {
		return fmt.Errorf("%w: file name required", ErrInvalidFile)
	}
	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, "/\\") {
		return fmt.Errorf("%w: file name must not contain path separators", ErrInvalidFile)
	}
	if size <= 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidFile, MaxFileSize)
	}
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if !allowedMimeTypes[mime] {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidFile, mimeType)
	}
	return nil
}

// IsImage reports whether the mime type maps to the image message variant.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}
