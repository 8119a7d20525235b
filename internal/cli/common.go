// Package cli provides command-line interface commands for stegmeter.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/liminalpurple/stegmeter/internal/config"
	"github.com/liminalpurple/stegmeter/internal/cover"
	"github.com/liminalpurple/stegmeter/internal/logging"
	"github.com/liminalpurple/stegmeter/internal/matrix"
	"github.com/liminalpurple/stegmeter/internal/stegapi"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	serverURL string
	logLevel  string
}

var globals globalOptions

// AddGlobalFlags registers the persistent flags on the root command
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&globals.serverURL, "server", "", "steganography service URL (overrides server.base_url)")
	root.PersistentFlags().StringVar(&globals.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
}

// app is what a command needs once configuration is loaded
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	service *stegapi.Client
}

// setup loads configuration, builds the logger and the service client
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if globals.serverURL != "" {
		cfg.Server.BaseURL = globals.serverURL
	}
	if globals.logLevel != "" {
		cfg.Log.Level = globals.logLevel
	}

	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		service: stegapi.NewClient(cfg.Server.BaseURL, cfg.Server.Timeout, log),
	}, nil
}

// loader returns a cover loader that can also read mxc:// URIs when a
// Matrix account is configured
func (a *app) loader() *cover.Loader {
	if !a.cfg.Matrix.Configured() {
		return cover.NewLoader(nil, nil)
	}

	matrixClient, err := matrix.NewClient(a.cfg.Matrix.Homeserver, a.cfg.Matrix.UserID, a.cfg.Matrix.AccessToken, a.log)
	if err != nil {
		a.log.Warn().Err(err).Msg("Matrix client unavailable, mxc:// covers disabled")
		return cover.NewLoader(nil, nil)
	}
	return cover.NewLoader(nil, matrixClient)
}

// loadImage loads a cover image through the configured loader
func (a *app) loadImage(ctx context.Context, ref string) (*cover.Image, error) {
	img, err := a.loader().Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	return img, nil
}

// readFileUpload reads a local file as an upload
func readFileUpload(p string) (stegapi.Upload, error) {
	info, err := os.Stat(p)
	if err != nil {
		return stegapi.Upload{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if info.Size() > stegapi.MaxUploadSize {
		return stegapi.Upload{}, fmt.Errorf("%w: %s is %d bytes", stegapi.ErrTooLarge, p, info.Size())
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return stegapi.Upload{}, fmt.Errorf("failed to read %s: %w", p, err)
	}

	return stegapi.Upload{Name: info.Name(), Data: data}, nil
}

// prompt reads a secret. On a terminal input is hidden; otherwise one line
// is read from in.
func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	_, _ = fmt.Fprint(out, label)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// writeOutput streams a service output file to dest. Nothing is left at
// dest when the download fails.
func writeOutput(ctx context.Context, service *stegapi.Client, ref, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".stegmeter-*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := service.DownloadTo(ctx, ref, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}
