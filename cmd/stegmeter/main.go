package main

import (
	"fmt"
	"os"

	"github.com/liminalpurple/stegmeter/internal/cli"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "stegmeter",
		Short: "Steganography capacity meter and service client",
		Long: `stegmeter - CLI and Matrix bot for image steganography.

Estimate how many bytes a cover image can hide, meter a message or file
against that capacity, and hide or extract payloads through a steganography
service. React with !capacity, !cap, or !steg in Matrix to get a capacity
report for any image or sticker.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddGlobalFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(cli.NewCapacityCmd())
	rootCmd.AddCommand(cli.NewAnalyzeCmd())
	rootCmd.AddCommand(cli.NewHideCmd())
	rootCmd.AddCommand(cli.NewHideFileCmd())
	rootCmd.AddCommand(cli.NewExtractCmd())
	rootCmd.AddCommand(cli.NewHealthCmd())
	rootCmd.AddCommand(cli.NewHistoryCmd())
	rootCmd.AddCommand(cli.NewLoginCmd())
	rootCmd.AddCommand(cli.NewCheckCmd())
	rootCmd.AddCommand(cli.NewBotCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
