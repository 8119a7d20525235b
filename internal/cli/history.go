package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liminalpurple/stegmeter/internal/report"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// NewHistoryCmd creates the history command and its subcommands
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded capacity analyses",
		Long: `Every 'stegmeter capacity' run (without --no-save) and every bot analysis
is recorded in history.json in the data directory, one entry per image.

IDs may be shortened to any unique prefix of at least 8 characters.`,
	}

	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd(), newHistoryDeleteCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List analyses, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			analyses, err := storage.ListAnalyses(a.cfg.Storage.DataDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(analyses) == 0 {
				_, _ = fmt.Fprintln(out, "No analyses yet.")
				return nil
			}

			for i, an := range analyses {
				if limit > 0 && i >= limit {
					break
				}
				_, _ = fmt.Fprintln(out, report.FromAnalysis(an).Summary())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many (0 for all)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}

			an, err := storage.GetAnalysis(a.cfg.Storage.DataDir, args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprint(cmd.OutOrStdout(), report.FromAnalysis(*an).Render(f))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, markdown, html")
	return cmd
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete one recorded analysis",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			fullID, err := storage.DeleteAnalysis(a.cfg.Storage.DataDir, args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", fullID)
			return nil
		},
	}
}
