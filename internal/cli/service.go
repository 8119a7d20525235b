package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/report"
	"github.com/liminalpurple/stegmeter/internal/stegapi"
)

// NewHealthCmd creates the health command
func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the steganography service",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	h, err := a.service.Health(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("service unavailable at %s: %w", a.service.BaseURL(), err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Service: %s\n", a.service.BaseURL())
	_, _ = fmt.Fprintf(out, "Status:  %s\n", h.Status)
	if h.Version != "" {
		_, _ = fmt.Fprintf(out, "Version: %s\n", h.Version)
	}
	if !h.Time.IsZero() {
		_, _ = fmt.Fprintf(out, "Time:    %s\n", h.Time.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

// NewAnalyzeCmd creates the analyze command
func NewAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Show the service's metadata report for an image",
		Long: `Upload an image to the service's metadata endpoint and print what it found:
file type, dimensions, EXIF presence, privacy risks, and the raw steganographic
capacity (3 bits per pixel, before the 85% usable margin).`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	img, err := a.loadImage(ctx, args[0])
	if err != nil {
		return err
	}

	md, err := a.service.Metadata(ctx, stegapi.Upload{Name: img.UploadName(), Data: img.Data})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "File:       %s (%s)\n", md.Filename, report.Bytes(md.FileSize))
	_, _ = fmt.Fprintf(out, "Type:       %s %s\n", md.FileType, md.MimeType)
	_, _ = fmt.Fprintf(out, "Dimensions: %dx%d\n", md.Width, md.Height)
	_, _ = fmt.Fprintf(out, "EXIF:       %s\n", yesNo(md.HasEXIF))
	if len(md.PrivacyRisks) > 0 {
		_, _ = fmt.Fprintf(out, "Privacy:    %s\n", strings.Join(md.PrivacyRisks, "; "))
	}

	if !md.Capacity.Known() {
		_, _ = fmt.Fprintln(out, "Capacity:   not reported")
		return nil
	}

	b := capacity.Describe(md.Capacity.MaxBytes)
	_, _ = fmt.Fprintf(out, "Capacity:   %s (server)\n", report.Bytes(md.Capacity.MaxBytes))
	_, _ = fmt.Fprintf(out, "  client:   %s (heuristic)\n", report.Bytes(capacity.ClientEstimate(img.Info.Dimensions()).MaxBytes))
	_, _ = fmt.Fprintf(out, "Fits:       ~%d words, ~%d PDF pages, ~%ds of MP3\n", b.Words, b.PDFPages, b.MP3Seconds)
	return nil
}

type hideOptions struct {
	message     string
	messageFile string
	output      string
}

// NewHideCmd creates the hide command
func NewHideCmd() *cobra.Command {
	opts := &hideOptions{}

	cmd := &cobra.Command{
		Use:   "hide <cover>",
		Short: "Hide a text message in an image",
		Long: `Hide a text message in a cover image using the service.

The message is metered against the cover's capacity first; going over only
logs a warning, the service has the final word. Keep the printed key: it is
the only way to extract the message again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHide(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "message to hide")
	cmd.Flags().StringVar(&opts.messageFile, "message-file", "", "read the message from a file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "save the stego image to this path")
	cmd.MarkFlagsMutuallyExclusive("message", "message-file")
	cmd.MarkFlagsOneRequired("message", "message-file")

	return cmd
}

func runHide(cmd *cobra.Command, args []string, opts *hideOptions) error {
	message := opts.message
	if opts.messageFile != "" {
		data, err := os.ReadFile(opts.messageFile)
		if err != nil {
			return fmt.Errorf("failed to read message file: %w", err)
		}
		message = string(data)
	}
	if strings.TrimSpace(message) == "" {
		return stegapi.ErrEmptyMessage
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	img, err := a.loadImage(ctx, args[0])
	if err != nil {
		return err
	}

	a.warnIfOver(img.Name, capacity.TextPayloadSize(message), capacity.ClientEstimate(img.Info.Dimensions()))

	result, err := a.service.HideText(ctx, stegapi.Upload{Name: img.UploadName(), Data: img.Data}, message)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Message != "" {
		_, _ = fmt.Fprintln(out, result.Message)
	}
	_, _ = fmt.Fprintf(out, "Key:    %s\n", result.Key)
	_, _ = fmt.Fprintf(out, "Output: %s\n", a.service.FileURL(result.OutputFileURL))

	if opts.output != "" {
		if err := writeOutput(ctx, a.service, result.OutputFileURL, opts.output); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Saved:  %s\n", opts.output)
	}
	return nil
}

type hideFileOptions struct {
	encrypt bool
	output  string
}

// NewHideFileCmd creates the hide-file command
func NewHideFileCmd() *cobra.Command {
	opts := &hideFileOptions{}

	cmd := &cobra.Command{
		Use:   "hide-file <cover> <file>",
		Short: "Hide a file in an image",
		Long: `Hide any file in a cover image using the service.

With --encrypt you are prompted for a password; without it the service picks
its default protection.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHideFile(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.encrypt, "encrypt", "e", false, "prompt for a password to encrypt the file with")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "save the stego image to this path")

	return cmd
}

func runHideFile(cmd *cobra.Command, args []string, opts *hideFileOptions) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	img, err := a.loadImage(ctx, args[0])
	if err != nil {
		return err
	}

	payload, err := readFileUpload(args[1])
	if err != nil {
		return err
	}

	a.warnIfOver(img.Name, int64(len(payload.Data)), capacity.ClientEstimate(img.Info.Dimensions()))

	var password string
	if opts.encrypt {
		password, err = prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if password == "" {
			return fmt.Errorf("password cannot be empty with --encrypt")
		}
	}

	result, err := a.service.HideFile(ctx, stegapi.Upload{Name: img.UploadName(), Data: img.Data}, payload, password)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Message != "" {
		_, _ = fmt.Fprintln(out, result.Message)
	}
	_, _ = fmt.Fprintf(out, "Hidden:     %s (%s, %s)\n", result.File.OriginalName, result.File.FileType, report.Bytes(result.File.FileSize))
	if result.Encryption != "" {
		_, _ = fmt.Fprintf(out, "Encryption: %s\n", result.Encryption)
	}
	_, _ = fmt.Fprintf(out, "Output:     %s\n", a.service.FileURL(result.OutputFileURL))

	if opts.output != "" {
		if err := writeOutput(ctx, a.service, result.OutputFileURL, opts.output); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Saved:      %s\n", opts.output)
	}
	return nil
}

type extractOptions struct {
	key    string
	outDir string
}

// NewExtractCmd creates the extract command
func NewExtractCmd() *cobra.Command {
	opts := &extractOptions{}

	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Recover a hidden message or file",
		Long: `Recover content hidden with 'stegmeter hide' or 'stegmeter hide-file'.

The 64-character key is prompted for when --key is not given. Hidden files
are downloaded into --dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.key, "key", "k", "", "extraction key (prompted for when empty)")
	cmd.Flags().StringVarP(&opts.outDir, "dir", "d", ".", "directory for extracted files")

	return cmd
}

func runExtract(cmd *cobra.Command, args []string, opts *extractOptions) error {
	key := strings.TrimSpace(opts.key)
	if key == "" {
		var err error
		key, err = prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), "Key: ")
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}
	if err := stegapi.ValidateKey(key); err != nil {
		return err
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	img, err := a.loadImage(ctx, args[0])
	if err != nil {
		return err
	}

	result, err := a.service.Extract(ctx, stegapi.Upload{Name: img.UploadName(), Data: img.Data}, key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !result.IsFile {
		_, _ = fmt.Fprintln(out, result.Message)
		return nil
	}

	name := filepath.Base(result.FileName)
	if name == "" || name == "." || name == "/" {
		name = "extracted"
	}
	dest := filepath.Join(opts.outDir, name)
	if err := writeOutput(ctx, a.service, result.FileURL, dest); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Extracted %s (%s, %s) to %s\n", result.FileName, result.FileType, report.Bytes(result.FileSize), dest)
	return nil
}

// warnIfOver logs a warning when a payload will not fit the client estimate
func (a *app) warnIfOver(name string, size int64, est capacity.Estimate) {
	u, ok := capacity.Usage(size, est)
	if !ok {
		return
	}
	if u.Exceeded() {
		a.log.Warn().Str("image", name).Str("usage", u.String()).Msg("Payload exceeds estimated capacity")
	} else if u.Band != capacity.BandNormal {
		a.log.Info().Str("image", name).Str("usage", u.String()).Msg("Payload is close to capacity")
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
