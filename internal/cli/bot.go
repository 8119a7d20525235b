package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liminalpurple/stegmeter/internal/bot"
	"github.com/liminalpurple/stegmeter/internal/matrix"
)

// NewBotCmd creates the bot command
func NewBotCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the capacity bot",
		Long: `Run the Matrix bot that watches for reaction commands and reports capacity.

The bot monitors all rooms for reactions from your user account. When it detects
a !capacity, !cap, or !steg reaction on an image or sticker, it:

  1. Downloads the image from its homeserver
  2. Computes the client-side capacity estimate
  3. Asks the steganography service for its figure (unless --offline)
  4. Records the analysis in history
  5. Replies with a capacity report and redacts the reaction

Send "!stegmeter help" in any room for the text commands.

The bot runs until interrupted with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "report client estimates only")
	return cmd
}

func runBot(cmd *cobra.Command, offline bool) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	// Verify required configuration
	if !a.cfg.Matrix.Configured() {
		return fmt.Errorf("no Matrix account configured - run 'stegmeter login' first")
	}

	a.log.Info().Msg("Creating Matrix client")
	matrixClient, err := matrix.NewClient(a.cfg.Matrix.Homeserver, a.cfg.Matrix.UserID, a.cfg.Matrix.AccessToken, a.log)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if err := matrixClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to Matrix: %w", err)
	}
	a.log.Info().Str("user_id", matrixClient.UserID.String()).Msg("Connected")

	var service bot.Service
	if offline {
		a.log.Info().Msg("Running offline, server estimates disabled")
	} else {
		service = a.service
		if h, err := a.service.Health(ctx); err != nil {
			a.log.Warn().Err(err).Str("server", a.service.BaseURL()).Msg("Service unreachable, reports will use client estimates until it answers")
		} else {
			a.log.Info().Str("status", h.Status).Str("version", h.Version).Msg("Service reachable")
		}
	}

	capacityBot := bot.NewBot(matrixClient, service, a.cfg, a.log)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- capacityBot.Run()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("bot error: %w", err)
		}
	case sig := <-sigChan:
		a.log.Info().Str("signal", sig.String()).Msg("Received signal")
		capacityBot.Stop()
		if err := <-errChan; err != nil {
			return fmt.Errorf("bot shutdown error: %w", err)
		}
	}

	a.log.Info().Msg("Bot stopped")
	return nil
}
