package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/config"
	"github.com/liminalpurple/stegmeter/internal/matrix"
	"github.com/liminalpurple/stegmeter/internal/stegapi"
)

type fakeService struct {
	estimate capacity.Estimate
	health   *stegapi.Health
	err      error
}

func (f *fakeService) Capacity(ctx context.Context, cover stegapi.Upload) (capacity.Estimate, error) {
	return f.estimate, f.err
}

func (f *fakeService) Health(ctx context.Context) (*stegapi.Health, error) {
	return f.health, f.err
}

// testConfig creates a minimal config for testing
func testConfig(storageDir string) *config.Config {
	return &config.Config{
		Matrix: config.MatrixConfig{
			Homeserver:  "https://matrix.org",
			UserID:      "@test:matrix.org",
			AccessToken: "test-token",
			NextBatch:   "s123_456",
		},
		Storage: config.StorageConfig{
			DataDir: storageDir,
		},
	}
}

// newTestBot creates a bot whose config and storage live in a temp dir
func newTestBot(t *testing.T, service Service) (*Bot, string) {
	t.Helper()
	return newTestBotAt(t, "https://matrix.org", service)
}

// newTestBotAt creates a test bot talking to the given homeserver
func newTestBotAt(t *testing.T, homeserver string, service Service) (*Bot, string) {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("STEGMETER_CONFIG_DIR", tmpDir)
	t.Chdir(tmpDir)

	matrixClient, err := matrix.NewClient(homeserver, "@test:matrix.org", "test-token", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create matrix client: %v", err)
	}

	bot := NewBot(matrixClient, service, testConfig(tmpDir), zerolog.Nop())
	t.Cleanup(bot.Stop)

	return bot, tmpDir
}

// TestNewBot verifies bot creation
func TestNewBot(t *testing.T) {
	bot, tmpDir := newTestBot(t, nil)

	if bot.storageDir != tmpDir {
		t.Errorf("Expected storage dir %s, got %s", tmpDir, bot.storageDir)
	}
	if bot.syncer == nil {
		t.Error("Expected syncer to be initialized")
	}
	if bot.loader == nil {
		t.Error("Expected cover loader to be initialized")
	}

	nb, err := bot.client.Client.Store.LoadNextBatch(context.Background(), bot.client.UserID)
	if err != nil || nb != "s123_456" {
		t.Errorf("Expected store to resume from saved token, got %q (%v)", nb, err)
	}
}

// TestBotStop verifies shutdown cancels and checkpoints
func TestBotStop(t *testing.T) {
	bot, _ := newTestBot(t, nil)

	select {
	case <-bot.ctx.Done():
		t.Error("Context should not be cancelled initially")
	default:
	}

	_ = bot.client.Client.Store.SaveNextBatch(context.Background(), bot.client.UserID, "s999_000")
	bot.Stop()

	select {
	case <-bot.ctx.Done():
	default:
		t.Error("Context should be cancelled after Stop()")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if cfg.Matrix.NextBatch != "s999_000" {
		t.Errorf("Expected next_batch s999_000 to be saved, got %q", cfg.Matrix.NextBatch)
	}
}

// TestBotStop_KeepsOverridesOutOfConfig verifies only the sync token is persisted
func TestBotStop_KeepsOverridesOutOfConfig(t *testing.T) {
	bot, tmpDir := newTestBot(t, nil)
	bot.config.Server.BaseURL = "http://flag-override:1234"

	_ = bot.client.Client.Store.SaveNextBatch(context.Background(), bot.client.UserID, "s777_000")
	bot.Stop()

	saved, err := os.ReadFile(filepath.Join(tmpDir, "config.yaml"))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(saved), "s777_000") {
		t.Errorf("Expected next_batch to be saved, got:\n%s", saved)
	}
	for _, leaked := range []string{"flag-override", "test-token"} {
		if strings.Contains(string(saved), leaked) {
			t.Errorf("Expected %q not to be saved, got:\n%s", leaked, saved)
		}
	}
}

// TestValidCommands verifies reaction recognition
func TestValidCommands(t *testing.T) {
	tests := []struct {
		command string
		valid   bool
	}{
		{"!capacity", true},
		{"!cap", true},
		{"!steg", true},
		{"!yoink", false},
		{"capacity", false},
		{"", false},
		{"👍", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if validCommands[tt.command] != tt.valid {
				t.Errorf("Command %q: expected valid=%v", tt.command, tt.valid)
			}
		})
	}
}

// TestExtractImageData verifies image and sticker parsing
func TestExtractImageData(t *testing.T) {
	tests := []struct {
		name    string
		evt     *event.Event
		wantURI string
		wantErr bool
	}{
		{
			name: "parsed sticker",
			evt: &event.Event{
				Type:    event.EventSticker,
				Content: event.Content{Parsed: &event.MessageEventContent{URL: "mxc://matrix.org/s1", Body: "Cool sticker"}},
			},
			wantURI: "mxc://matrix.org/s1",
		},
		{
			name: "raw sticker",
			evt: &event.Event{
				Type:    event.EventSticker,
				Content: event.Content{Raw: map[string]interface{}{"url": "mxc://matrix.org/s2", "body": "Raw"}},
			},
			wantURI: "mxc://matrix.org/s2",
		},
		{
			name: "parsed image",
			evt: &event.Event{
				Type: event.EventMessage,
				Content: event.Content{Parsed: &event.MessageEventContent{
					MsgType: event.MsgImage, URL: "mxc://matrix.org/i1", Body: "photo.png",
				}},
			},
			wantURI: "mxc://matrix.org/i1",
		},
		{
			name: "raw image",
			evt: &event.Event{
				Type: event.EventMessage,
				Content: event.Content{Raw: map[string]interface{}{
					"msgtype": "m.image", "url": "mxc://matrix.org/i2", "body": "photo.jpg",
				}},
			},
			wantURI: "mxc://matrix.org/i2",
		},
		{
			name: "text message",
			evt: &event.Event{
				Type:    event.EventMessage,
				Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"}},
			},
			wantErr: true,
		},
		{
			name: "video message",
			evt: &event.Event{
				Type:    event.EventMessage,
				Content: event.Content{Raw: map[string]interface{}{"msgtype": "m.video", "url": "mxc://matrix.org/v"}},
			},
			wantErr: true,
		},
		{
			name: "encrypted image without url",
			evt: &event.Event{
				Type:    event.EventMessage,
				Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgImage, Body: "secret.png"}},
			},
			wantErr: true,
		},
		{
			name:    "unsupported type",
			evt:     &event.Event{Type: event.EventReaction},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, _, err := extractImageData(tt.evt)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if string(uri) != tt.wantURI {
				t.Errorf("Expected %s, got %s", tt.wantURI, uri)
			}
		})
	}
}
