package matrix

import (
	"context"
	"fmt"
	"net/http"

	"maunium.net/go/mautrix/id"
)

// DownloadMedia downloads media from an MXC URI and returns it with its sniffed content type
func (c *Client) DownloadMedia(ctx context.Context, mxcURI string) ([]byte, string, error) {
	parsedURI, err := id.ParseContentURI(mxcURI)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse MXC URI: %w", err)
	}

	data, err := c.DownloadBytes(ctx, parsedURI)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}

	return data, http.DetectContentType(data), nil
}

// UploadMedia uploads media to the homeserver and returns the new MXC URI
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	uploadResp, err := c.UploadBytes(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	return uploadResp.ContentURI.String(), nil
}
