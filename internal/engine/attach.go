package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamavenir/huddle/internal/attach"
	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/types"
)

// SendFile sends a file with an optional caption. Images are carried as an
// inline thumbnail; anything that cannot be inlined is uploaded first when
// the backend supports uploads. The upload runs on the caller's goroutine.
func (e *Engine) SendFile(ctx context.Context, name string, data []byte, caption string) (string, error) {
	meta := attach.Describe(name, data)
	caps := e.Capabilities()
	if !caps.AllowsAttachment(meta.Kind) {
		return "", ErrCapabilityDisabled
	}

	att, err := attach.Inline(name, data)
	if err == nil {
		return e.Send(caption, &att)
	}
	if !errors.Is(err, attach.ErrNotInline) {
		return "", err
	}

	uploader, ok := e.backend.(backend.Uploader)
	if !ok {
		return "", fmt.Errorf("send %s: %w", meta.Name, backend.ErrUnsupported)
	}
	url, err := uploader.Upload(ctx, attach.UploadPath(name, e.now()), data)
	if err != nil {
		e.logger.Warn().Err(err).Str("file", meta.Name).Msg("upload failed")
		return "", fmt.Errorf("upload %s: %w", meta.Name, err)
	}
	legacy := types.Attachment{
		Kind:   meta.Kind,
		Name:   meta.Name,
		Mime:   meta.Mime,
		Size:   meta.Size,
		Width:  meta.Width,
		Height: meta.Height,
		URL:    url,
	}
	return e.Send(caption, &legacy)
}
