// Copyright 2024-2026 Aiku AI

package outbound

import (
	"context"
	"strings"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/syncerr"
)

// PublicURL returns the public URL of an attachment: the base URL without
// trailing slashes, a slash, then the attachment id.
func PublicURL(baseURL, attachmentID string) (string, error) {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return "", syncerr.Configuration("attachment base URL is not configured")
	}
	return base + "/" + attachmentID, nil
}

// attachments returns the completed attachments of a message with their
// public URLs.
func (e *Engine) attachments(ctx context.Context, messageID string) ([]provider.Attachment, error) {
	atts, err := e.store.ListCompletedAttachments(ctx, messageID)
	if err != nil || len(atts) == 0 {
		return nil, err
	}
	out := make([]provider.Attachment, 0, len(atts))
	for _, att := range atts {
		url, err := PublicURL(e.cfg.AttachmentBaseURL, att.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, provider.Attachment{FileName: att.FileName, URL: url, Size: att.FileSize})
	}
	return out, nil
}
