// Package bot implements the Matrix bot that reports cover capacity on request.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/liminalpurple/stegmeter/internal/config"
	"github.com/liminalpurple/stegmeter/internal/cover"
	"github.com/liminalpurple/stegmeter/internal/matrix"
	"github.com/liminalpurple/stegmeter/internal/session"
	"github.com/liminalpurple/stegmeter/internal/stegapi"
)

// checkpointInterval is how often next_batch is written to the config file
const checkpointInterval = time.Hour

// Service is the steganography service as the bot uses it
type Service interface {
	session.CapacityFetcher
	Health(ctx context.Context) (*stegapi.Health, error)
}

// simpleStore implements a minimal mautrix.SyncStore that only tracks next_batch
type simpleStore struct {
	mu        sync.RWMutex
	nextBatch string
}

func (s *simpleStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return nil
}
func (s *simpleStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return "", nil
}
func (s *simpleStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBatch = nextBatchToken
	return nil
}
func (s *simpleStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextBatch, nil
}

// Bot watches Matrix rooms for capacity reactions and !stegmeter commands
type Bot struct {
	client     *matrix.Client
	service    Service
	loader     *cover.Loader
	storageDir string
	syncer     *mautrix.DefaultSyncer
	ctx        context.Context
	cancel     context.CancelFunc
	config     *config.Config
	nextBatch  string
	log        zerolog.Logger
}

// NewBot creates a new bot instance. service may be nil, in which case only
// client-side estimates are reported.
func NewBot(matrixClient *matrix.Client, service Service, cfg *config.Config, log zerolog.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	store := &simpleStore{
		nextBatch: cfg.Matrix.NextBatch,
	}
	matrixClient.Client.Store = store

	bot := &Bot{
		client:     matrixClient,
		service:    service,
		loader:     cover.NewLoader(nil, matrixClient),
		storageDir: cfg.Storage.DataDir,
		syncer:     matrixClient.Syncer.(*mautrix.DefaultSyncer),
		ctx:        ctx,
		cancel:     cancel,
		config:     cfg,
		nextBatch:  cfg.Matrix.NextBatch,
		log:        log.With().Str("component", "bot").Logger(),
	}

	bot.syncer.OnEventType(event.EventReaction, bot.handleReaction)
	bot.syncer.OnEventType(event.EventMessage, bot.handleMessage)

	return bot
}

// Run starts the bot's sync loop and blocks until Stop or a sync error
func (b *Bot) Run() error {
	b.log.Info().Msg("Starting bot sync loop")

	if b.nextBatch != "" {
		b.log.Info().Str("next_batch", truncateToken(b.nextBatch)).Msg("Resuming from saved sync token")
	} else {
		b.log.Info().Msg("No previous sync token, starting from current state")
	}

	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	// Poll for the first sync so a fresh token is saved without waiting an hour
	firstSyncCheck := time.NewTicker(10 * time.Second)
	defer firstSyncCheck.Stop()

	syncErr := make(chan error, 1)
	go func() {
		if err := b.client.SyncWithContext(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			syncErr <- err
		}
		b.log.Debug().Msg("Sync goroutine exited")
	}()

	savedFirst := false
	for {
		select {
		case <-firstSyncCheck.C:
			if savedFirst {
				continue
			}
			nb, err := b.client.Client.Store.LoadNextBatch(context.Background(), b.client.UserID)
			if err != nil || nb == "" || nb == b.nextBatch {
				continue
			}
			b.nextBatch = nb
			if err := b.saveNextBatch(); err != nil {
				b.log.Warn().Err(err).Msg("Failed to save next_batch after first sync")
				continue
			}
			b.log.Info().Str("next_batch", truncateToken(nb)).Msg("Saved initial next_batch")
			savedFirst = true
			firstSyncCheck.Stop()

		case <-ticker.C:
			if err := b.saveNextBatch(); err != nil {
				b.log.Warn().Err(err).Msg("Failed to save next_batch checkpoint")
			} else {
				b.log.Debug().Msg("Saved next_batch checkpoint")
			}

		case err := <-syncErr:
			return fmt.Errorf("sync error: %w", err)

		case <-b.ctx.Done():
			b.log.Info().Msg("Bot sync loop stopped")
			return nil
		}
	}
}

// Stop gracefully shuts down the bot and saves the final sync token
func (b *Bot) Stop() {
	b.log.Info().Msg("Stopping bot")
	b.cancel()
	b.client.StopSync()

	if err := b.saveNextBatch(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to save next_batch on shutdown")
	}
}

// saveNextBatch persists the current next_batch token to config
func (b *Bot) saveNextBatch() error {
	if nb, err := b.client.Client.Store.LoadNextBatch(context.Background(), b.client.UserID); err == nil {
		b.nextBatch = nb
	}
	b.config.Matrix.NextBatch = b.nextBatch

	// b.config carries flag and env overrides; only the token is persisted
	nextBatch := b.nextBatch
	return config.Update(func(cfg *config.Config) {
		cfg.Matrix.NextBatch = nextBatch
	})
}

// handleReaction is called for every m.reaction event
func (b *Bot) handleReaction(ctx context.Context, evt *event.Event) {
	// Only our own account's reactions are commands
	if evt.Sender != b.client.UserID {
		return
	}

	if err := b.processReaction(ctx, evt); err != nil {
		b.log.Error().Err(err).Str("room_id", evt.RoomID.String()).Msg("Error processing reaction")
	}
}

func truncateToken(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
