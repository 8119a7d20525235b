package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/reconcile"
	"github.com/liminalpurple/stegmeter/internal/report"
	"github.com/liminalpurple/stegmeter/internal/session"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// meterWidth is the width of the interactive usage bar
const meterWidth = 30

type capacityOptions struct {
	message     string
	messageFile string
	file        string
	offline     bool
	format      string
	noSave      bool
	concurrency int
	interactive bool
}

// NewCapacityCmd creates the capacity command
func NewCapacityCmd() *cobra.Command {
	opts := &capacityOptions{}

	cmd := &cobra.Command{
		Use:   "capacity <image>...",
		Short: "Estimate how many bytes an image can hide",
		Long: `Estimate the steganographic capacity of one or more cover images.

Each image gets an instant client-side estimate (a heuristic: 3 bits per pixel,
85% usable). Unless --offline is given, the service is then asked for its own
figure, which replaces the client estimate when it arrives in time.

Images may be local paths, http(s) URLs, or mxc:// URIs (after 'stegmeter login').

Give a payload with --message, --message-file, or --file to see how much of the
capacity it would use. With --interactive, the message is read line by line
from stdin and the meter is redrawn after every line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapacity(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "text payload to meter")
	cmd.Flags().StringVar(&opts.messageFile, "message-file", "", "read the text payload from a file")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "file payload to meter")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "skip the service and report the client estimate only")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text, markdown, html")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not record the analysis in history")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 4, "images analyzed at once")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "meter a message typed on stdin")
	cmd.MarkFlagsMutuallyExclusive("message", "message-file", "file", "interactive")

	return cmd
}

func runCapacity(cmd *cobra.Command, args []string, opts *capacityOptions) error {
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	if opts.interactive && len(args) != 1 {
		return fmt.Errorf("--interactive works on exactly one image")
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	if opts.interactive {
		return a.meterInteractive(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), args[0], opts)
	}

	message := opts.message
	if opts.messageFile != "" {
		data, err := os.ReadFile(opts.messageFile)
		if err != nil {
			return fmt.Errorf("failed to read message file: %w", err)
		}
		message = string(data)
	}

	var fileSize int64
	if opts.file != "" {
		fileSize, err = capacity.FilePayloadSize(opts.file)
		if err != nil {
			return err
		}
	}

	results := make([]*session.Result, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	for i, ref := range args {
		g.Go(func() error {
			img, err := a.loadImage(gctx, ref)
			if err != nil {
				return err
			}

			sess := a.newSession(opts.offline)
			switch {
			case opts.file != "":
				sess.SetFileSize(fileSize)
			case opts.message != "" || opts.messageFile != "":
				sess.SetMessage(message)
			}

			res, err := sess.Analyze(gctx, img)
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %w", ref, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now()
	out := cmd.OutOrStdout()
	for i, res := range results {
		if !opts.noSave {
			if err := storage.RecordAnalysis(a.cfg.Storage.DataDir, res.Analysis(now)); err != nil {
				a.log.Warn().Err(err).Msg("Failed to record analysis")
			}
		}
		if res.HasUsage && res.Usage.Exceeded() {
			a.log.Warn().
				Str("image", res.Image.Name).
				Int64("over_by", res.Usage.UsedBytes-res.Usage.Capacity.MaxBytes).
				Msg("Payload exceeds capacity")
		}

		if i > 0 {
			_, _ = fmt.Fprintln(out)
		}
		_, _ = fmt.Fprint(out, report.FromResult(res, now).Render(format))
	}

	return nil
}

// newSession creates a session that asks the service unless offline
func (a *app) newSession(offline bool) *session.Session {
	rec := reconcile.New(a.log, a.cfg.Server.EstimateTimeout)
	if offline {
		return session.New(rec, nil)
	}
	return session.New(rec, a.service)
}

// meterInteractive redraws the usage meter after every line read from in
func (a *app) meterInteractive(ctx context.Context, in io.Reader, out io.Writer, ref string, opts *capacityOptions) error {
	img, err := a.loadImage(ctx, ref)
	if err != nil {
		return err
	}

	sess := a.newSession(opts.offline)
	res := &session.Result{Image: img}

	// The client estimate is ready at once; the server's arrives later
	updates := sess.SelectImage(ctx, img)
	show := func(u reconcile.Update) {
		if u.Estimate.Source == capacity.SourceServer {
			res.Server = u.Estimate
		} else {
			res.Client = u.Estimate
		}
		res.Final = u.Estimate
		_, _ = fmt.Fprintf(out, "%s: %s (%s)\n", img.Name, report.Bytes(u.Estimate.MaxBytes), u.Estimate.Source)
	}
	show(<-updates)

	poll := func(block bool) {
		for updates != nil {
			if block {
				u, ok := <-updates
				if !ok {
					updates = nil
					return
				}
				show(u)
				continue
			}
			select {
			case u, ok := <-updates:
				if !ok {
					updates = nil
					return
				}
				show(u)
			default:
				return
			}
		}
	}

	showPrompt := false
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		showPrompt = true
		_, _ = fmt.Fprintln(out, "Type your message. Each line is added to the payload; Ctrl+D to finish.")
	}

	var lines []string
	scanner := bufio.NewScanner(in)
	for {
		if showPrompt {
			_, _ = fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		lines = append(lines, scanner.Text())
		poll(false)

		u, ok := sess.SetMessage(strings.Join(lines, "\n"))
		if !ok {
			_, _ = fmt.Fprintln(out, "capacity unknown")
			continue
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", report.Bar(u, meterWidth), report.UsageLine(u))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if opts.noSave {
		return nil
	}

	poll(true)
	if err := storage.RecordAnalysis(a.cfg.Storage.DataDir, res.Analysis(time.Now())); err != nil {
		a.log.Warn().Err(err).Msg("Failed to record analysis")
	}

	return nil
}
