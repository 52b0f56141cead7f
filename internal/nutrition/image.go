package nutrition

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	errx "github.com/nomai-core/server/internal/core/error"
)

// MaxImageSize caps accepted images at 10 MB decoded.
const MaxImageSize = 10 * 1024 * 1024

var supportedFormats = []string{"jpeg", "png", "webp"}

// DecodeImage validates a base64-encoded image and returns its bytes and
// detected format. It strips an optional data-URL prefix first. All failures
// come back as typed errx errors so the boundary can answer with the right
// status: bad base64 is a 400 validation error on field imageData, an
// oversized image is 413, an unknown or unsupported format is 400.
func DecodeImage(base64Image string) ([]byte, string, error) {
	if base64Image == "" {
		return nil, "", errx.Validation(errx.CodeMissingRequiredField, "image data cannot be empty", errx.Detail{
			Field:      "imageData",
			Constraint: "required",
			Suggestion: "provide a valid base64 encoded image",
		})
	}

	if idx := strings.Index(base64Image, ";base64,"); idx >= 0 {
		base64Image = base64Image[idx+len(";base64,"):]
	}

	raw, err := base64.StdEncoding.DecodeString(base64Image)
	if err != nil {
		return nil, "", errx.Validation(errx.CodeInvalidBase64, "invalid base64 encoding in image data", errx.Detail{
			Field:      "imageData",
			Constraint: "valid_base64",
			Suggestion: "ensure the image is properly encoded in base64 format",
		})
	}
	if len(raw) == 0 {
		return nil, "", errx.Validation(errx.CodeInvalidBase64, "image data is empty after decoding", errx.Detail{
			Field:      "imageData",
			Constraint: "non_empty_after_decode",
			Suggestion: "ensure the base64 string contains valid image data",
		})
	}

	if len(raw) > MaxImageSize {
		e := errx.New(nil, errx.CodeImageTooLarge,
			fmt.Sprintf("image size (%.2f MB) exceeds maximum allowed size (%d MB)",
				float64(len(raw))/(1024*1024), MaxImageSize/(1024*1024)))
		return nil, "", e
	}

	format := DetectImageFormat(raw)
	if format == "" {
		return nil, "", errx.New(nil, errx.CodeInvalidImageFormat,
			"unable to detect image format; upload a valid image file")
	}
	for _, f := range supportedFormats {
		if f == format {
			return raw, format, nil
		}
	}
	return nil, "", errx.New(nil, errx.CodeInvalidImageFormat,
		fmt.Sprintf("image format %q is not supported; supported formats: %s",
			format, strings.Join(supportedFormats, ", ")))
}

// DetectImageFormat sniffs the image type from its magic bytes. Returns ""
// when the format is unrecognized.
func DetectImageFormat(raw []byte) string {
	switch {
	case bytes.HasPrefix(raw, []byte{0xff, 0xd8, 0xff}):
		return "jpeg"
	case bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(raw, []byte("RIFF")) && len(raw) >= 12 && bytes.Equal(raw[8:12], []byte("WEBP")):
		return "webp"
	case bytes.HasPrefix(raw, []byte("GIF87a")), bytes.HasPrefix(raw, []byte("GIF89a")):
		return "gif"
	default:
		return ""
	}
}
