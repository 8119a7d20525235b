package cli

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/spf13/cobra"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/cover"
	"github.com/liminalpurple/stegmeter/internal/matrix"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// NewCheckCmd creates the check command
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check configuration, service and Matrix connectivity",
		Long: `Check that all components are working correctly:

  - Configuration loads properly
  - Client capacity estimate for a generated test image
  - Steganography service health and capacity estimate
  - Storage operations
  - Matrix connection and media round-trip (when logged in)

This is useful for verifying setup before running the bot.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintln(out, "🧪 Running stegmeter checks...")
	_, _ = fmt.Fprintln(out)

	_, _ = fmt.Fprint(out, "📋 Loading configuration... ")
	a, err := setup(cmd)
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintln(out, "✅")

	_, _ = fmt.Fprint(out, "🖼️  Creating test image... ")
	testImageData, err := createTestImage(64, 48)
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	img, err := cover.FromBytes("stegmeter-check.png", "generated", testImageData)
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintf(out, "✅\n   %s, %d bytes\n", img.Info.Dimensions(), img.Info.SizeBytes)

	_, _ = fmt.Fprint(out, "🧮 Client estimate... ")
	client := capacity.ClientEstimate(img.Info.Dimensions())
	if !client.Known() || client.Degraded {
		_, _ = fmt.Fprintln(out, "❌")
		return fmt.Errorf("client estimate for %s is degraded", img.Info.Dimensions())
	}
	_, _ = fmt.Fprintf(out, "✅\n   %d bytes\n", client.MaxBytes)

	_, _ = fmt.Fprintf(out, "🩺 Service health (%s)... ", a.service.BaseURL())
	serviceUp := true
	if h, err := a.service.Health(ctx); err != nil {
		serviceUp = false
		_, _ = fmt.Fprintf(out, "⚠️\n   %v\n   Capacity reports will fall back to client estimates.\n", err)
	} else {
		_, _ = fmt.Fprintf(out, "✅\n   Status: %s, version: %s\n", h.Status, h.Version)
	}

	var analysisResult = client
	if serviceUp {
		_, _ = fmt.Fprint(out, "📡 Server estimate... ")
		res, err := a.newSession(false).Analyze(ctx, img)
		if err != nil {
			_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
			return err
		}
		if res.ServerErr != nil {
			_, _ = fmt.Fprintf(out, "⚠️\n   %v\n", res.ServerErr)
		} else {
			_, _ = fmt.Fprintf(out, "✅\n   %d bytes (client heuristic: %d)\n", res.Server.MaxBytes, res.Client.MaxBytes)
		}
		analysisResult = res.Final
	}
	_, _ = fmt.Fprintln(out)

	_, _ = fmt.Fprint(out, "💾 Testing storage operations... ")
	testAnalysis := storage.Analysis{
		ID:          img.ID,
		Name:        img.Name,
		Source:      img.Ref,
		AnalyzedAt:  time.Now(),
		MimeType:    img.Info.MimeType,
		Width:       img.Info.Width,
		Height:      img.Info.Height,
		SizeBytes:   img.Info.SizeBytes,
		ClientBytes: client.MaxBytes,
		FinalBytes:  analysisResult.MaxBytes,
		FinalSource: string(analysisResult.Source),
	}
	if err := storage.RecordAnalysis(a.cfg.Storage.DataDir, testAnalysis); err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	retrieved, err := storage.GetAnalysis(a.cfg.Storage.DataDir, img.ID[:storage.MinPrefixLength])
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	if retrieved.ID != testAnalysis.ID {
		_, _ = fmt.Fprintln(out, "❌\n   Error: Retrieved analysis ID mismatch")
		return fmt.Errorf("storage verification failed")
	}
	if _, err := storage.DeleteAnalysis(a.cfg.Storage.DataDir, img.ID); err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintf(out, "✅\n   Recorded, retrieved and deleted %s\n", img.ID[:16]+"...")
	_, _ = fmt.Fprintln(out)

	if !a.cfg.Matrix.Configured() {
		_, _ = fmt.Fprintln(out, "ℹ️  No Matrix account configured, skipping Matrix checks (run 'stegmeter login').")
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "🎉 All checks passed!")
		return nil
	}

	_, _ = fmt.Fprint(out, "🔑 Verifying Matrix credentials... ")
	matrixClient, err := matrix.NewClient(a.cfg.Matrix.Homeserver, a.cfg.Matrix.UserID, a.cfg.Matrix.AccessToken, a.log)
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	if err := matrixClient.Connect(ctx); err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintf(out, "✅\n   Logged in as: %s\n", matrixClient.UserID)

	_, _ = fmt.Fprint(out, "📤 Uploading test image to Matrix... ")
	testMXC, err := matrixClient.UploadMedia(ctx, testImageData, img.Info.MimeType)
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	_, _ = fmt.Fprintf(out, "✅\n   MXC URI: %s\n", testMXC)

	_, _ = fmt.Fprint(out, "📥 Loading it back as a cover... ")
	loaded, err := cover.NewLoader(nil, matrixClient).Load(ctx, testMXC)
	if err != nil {
		_, _ = fmt.Fprintf(out, "❌\n   Error: %v\n", err)
		return err
	}
	if loaded.ID != img.ID {
		_, _ = fmt.Fprintln(out, "❌\n   Error: downloaded image differs from upload")
		return fmt.Errorf("matrix media round-trip failed")
	}
	_, _ = fmt.Fprintf(out, "✅\n   %s, %s\n", loaded.Info.Dimensions(), loaded.Info.MimeType)
	_, _ = fmt.Fprintln(out)

	_, _ = fmt.Fprintln(out, "🎉 All checks passed! The bot is ready to run.")
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "To start the bot, run:")
	_, _ = fmt.Fprintln(out, "  stegmeter bot")
	_, _ = fmt.Fprintln(out)

	return nil
}

// createTestImage generates a gradient PNG of the given size
func createTestImage(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
