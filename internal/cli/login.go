package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/liminalpurple/stegmeter/internal/auth"
	"github.com/liminalpurple/stegmeter/internal/config"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Matrix homeserver",
		Long: `Interactive login to Matrix homeserver.

Prompts for homeserver URL, user ID, and password, then saves credentials
to the configuration file. A Matrix login enables mxc:// covers and the bot.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "stegmeter - Matrix login")
	_, _ = fmt.Fprintln(out)

	readPassword := func() ([]byte, error) {
		return term.ReadPassword(int(os.Stdin.Fd()))
	}

	creds, err := auth.InteractiveLogin(commandContext(cmd), cmd.InOrStdin(), out, readPassword, a.log)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Login successful!")
	_, _ = fmt.Fprintf(out, "User ID: %s\n", creds.UserID)
	_, _ = fmt.Fprintf(out, "Device ID: %s\n", creds.DeviceID)
	_, _ = fmt.Fprintln(out)

	err = config.Update(func(cfg *config.Config) {
		cfg.Matrix.Homeserver = creds.Homeserver
		cfg.Matrix.UserID = creds.UserID
		cfg.Matrix.DeviceID = creds.DeviceID
		cfg.Matrix.AccessToken = creds.AccessToken
		// A new account starts a new sync
		cfg.Matrix.NextBatch = ""
	})
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	configDir, _ := config.GetConfigDir()
	_, _ = fmt.Fprintf(out, "Credentials saved to: %s/config.yaml\n", configDir)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "You can now run 'stegmeter bot' to answer capacity reactions!")

	return nil
}
