// Package attach turns a picked file into a message attachment: images
// become an inline JPEG thumbnail, everything else is uploaded.
package attach

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfnt/resize"

	"github.com/adamavenir/huddle/internal/types"
)

const (
	// MaxInlineBytes bounds the encoded data URL of an inline thumbnail.
	MaxInlineBytes = 900 * 1024
	// MaxDimension is the longest edge of a thumbnail.
	MaxDimension = 1024

	minDimension = 64
	jpegQuality  = 80
	minQuality   = 40
)

// ErrNotInline means the file cannot be carried inline and needs an upload.
var ErrNotInline = errors.New("attachment cannot be inlined")

// KindOf classifies a file by its MIME type.
func KindOf(mimeType string) types.AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return types.AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return types.AttachmentVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return types.AttachmentAudio
	default:
		return types.AttachmentFile
	}
}

// Detect returns the MIME type of a file from its extension, falling back
// to content sniffing.
func Detect(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	return http.DetectContentType(data)
}

// Describe returns attachment metadata for a file without any payload.
func Describe(name string, data []byte) types.Attachment {
	mimeType := Detect(name, data)
	att := types.Attachment{
		Kind: KindOf(mimeType),
		Name: filepath.Base(name),
		Mime: mimeType,
		Size: int64(len(data)),
	}
	if att.Kind == types.AttachmentImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			att.Width, att.Height = cfg.Width, cfg.Height
		}
	}
	return att
}

// Thumbnail decodes an image, scales it to fit MaxDimension and encodes it
// as a JPEG data URL no larger than MaxInlineBytes. Quality and then size
// are stepped down until it fits.
func Thumbnail(data []byte) (string, image.Point, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", image.Point{}, fmt.Errorf("%w: decode image: %v", ErrNotInline, err)
	}
	dim := MaxDimension
	for dim >= minDimension {
		scaled := resize.Thumbnail(uint(dim), uint(dim), img, resize.Lanczos3)
		for quality := jpegQuality; quality >= minQuality; quality -= 20 {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
				return "", image.Point{}, fmt.Errorf("encode thumbnail: %w", err)
			}
			url := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
			if len(url) <= MaxInlineBytes {
				return url, scaled.Bounds().Size(), nil
			}
		}
		dim /= 2
	}
	return "", image.Point{}, fmt.Errorf("%w: thumbnail exceeds %d bytes", ErrNotInline, MaxInlineBytes)
}

// Inline builds an inline attachment for an image file.
func Inline(name string, data []byte) (types.Attachment, error) {
	att := Describe(name, data)
	if att.Kind != types.AttachmentImage {
		return types.Attachment{}, ErrNotInline
	}
	url, size, err := Thumbnail(data)
	if err != nil {
		return types.Attachment{}, err
	}
	att.Thumbnail = url
	att.Mime = "image/jpeg"
	if att.Width == 0 {
		att.Width, att.Height = size.X, size.Y
	}
	return att, nil
}

// UploadPath is the storage path of a legacy upload.
func UploadPath(name string, now time.Time) string {
	base := strings.ReplaceAll(filepath.Base(name), " ", "_")
	return fmt.Sprintf("media/%d_%s", now.UnixMilli(), base)
}
