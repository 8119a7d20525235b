// Package matrix provides Matrix client functionality for stegmeter.
// It wraps mautrix-go with the few operations the bot and cover loader need.
package matrix

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Client wraps the mautrix client with stegmeter-specific functionality
type Client struct {
	*mautrix.Client
	UserID id.UserID
}

// NewClient creates a new Matrix client that logs through log
func NewClient(homeserver string, userID string, accessToken string, log zerolog.Logger) (*Client, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "matrix").Logger()

	return &Client{
		Client: client,
		UserID: id.UserID(userID),
	}, nil
}

// Connect verifies the access token belongs to the configured user
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify credentials: %w", err)
	}

	if resp.UserID != c.UserID {
		return fmt.Errorf("user ID mismatch: expected %s, got %s", c.UserID, resp.UserID)
	}

	return nil
}
