// Package imageutil validates inline image content blocks and derives
// their sidecar attachment representation.
package imageutil

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Attachment is the sidecar form of an image block: raw base64 data plus a
// short format tag derived from media_type.
type Attachment struct {
	Data   string
	Format string
}

// FromSource validates a content block's base64 data and derives the
// sidecar Attachment, stripping the "image/" prefix from mediaType for the
// format tag. The media type itself is not validated.
func FromSource(mediaType, data string) (Attachment, error) {
	if data == "" {
		return Attachment{}, fmt.Errorf("imageutil: image data is empty")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return Attachment{}, fmt.Errorf("imageutil: image data is not valid base64: %w", err)
	}
	format := deriveFormat(mediaType)
	return Attachment{Data: data, Format: format}, nil
}

// deriveFormat strips the "image/" prefix from a media type string
// ("image/png" -> "png"). An unexpected shape falls back to the raw media
// type rather than failing, since this is sidecar metadata only.
func deriveFormat(mediaType string) string {
	_, sub, found := strings.Cut(mediaType, "/")
	if !found {
		return mediaType
	}
	return sub
}
