// Package auth provides Matrix authentication functionality.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// DeviceID is the device every stegmeter login registers as
const DeviceID = "STEGMETER"

// LoginCredentials holds the result of a successful login
type LoginCredentials struct {
	Homeserver  string
	UserID      string
	DeviceID    string
	AccessToken string
}

// PasswordReader reads a password without echoing it
type PasswordReader func() ([]byte, error)

// InteractiveLogin prompts on out for credentials read from in, then logs in
func InteractiveLogin(ctx context.Context, in io.Reader, out io.Writer, readPassword PasswordReader, log zerolog.Logger) (*LoginCredentials, error) {
	reader := bufio.NewReader(in)

	_, _ = fmt.Fprint(out, "Homeserver URL (e.g., https://matrix.org): ")
	homeserver, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read homeserver: %w", err)
	}

	_, _ = fmt.Fprint(out, "User ID (e.g., @morgan:matrix.org): ")
	userID, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read user ID: %w", err)
	}

	_, _ = fmt.Fprint(out, "Password: ")
	passwordBytes, err := readPassword()
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return PasswordLogin(ctx, strings.TrimSpace(homeserver), strings.TrimSpace(userID), string(passwordBytes), log)
}

// PasswordLogin logs in with a password and returns the new access token
func PasswordLogin(ctx context.Context, homeserver, userID, password string, log zerolog.Logger) (*LoginCredentials, error) {
	homeserver = NormalizeHomeserver(homeserver)
	if homeserver == "" || userID == "" {
		return nil, fmt.Errorf("homeserver and user ID are required")
	}

	client, err := mautrix.NewClient(homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.Log = log

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: userID,
		},
		Password:                 password,
		DeviceID:                 id.DeviceID(DeviceID),
		InitialDeviceDisplayName: "stegmeter",
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	return &LoginCredentials{
		Homeserver:  homeserver,
		UserID:      resp.UserID.String(),
		DeviceID:    resp.DeviceID.String(),
		AccessToken: resp.AccessToken,
	}, nil
}

// NormalizeHomeserver trims the URL and defaults the scheme to https
func NormalizeHomeserver(homeserver string) string {
	homeserver = strings.TrimRight(strings.TrimSpace(homeserver), "/")
	if homeserver == "" {
		return ""
	}
	if !strings.HasPrefix(homeserver, "http://") && !strings.HasPrefix(homeserver, "https://") {
		homeserver = "https://" + homeserver
	}
	return homeserver
}
