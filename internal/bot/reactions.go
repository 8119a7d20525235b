package bot

import (
	"context"
	"fmt"
	"path"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/liminalpurple/stegmeter/internal/reconcile"
	"github.com/liminalpurple/stegmeter/internal/report"
	"github.com/liminalpurple/stegmeter/internal/session"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// validCommands are the reaction commands we respond to
var validCommands = map[string]bool{
	"!capacity": true,
	"!cap":      true,
	"!steg":     true,
}

// processReaction handles a reaction event and reports capacity if appropriate
func (b *Bot) processReaction(ctx context.Context, evt *event.Event) error {
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return fmt.Errorf("failed to parse reaction content")
	}

	reaction := content.RelatesTo.Key
	if !validCommands[reaction] {
		return nil
	}

	parentEventID := content.RelatesTo.EventID
	b.log.Info().
		Str("command", reaction).
		Str("room_id", evt.RoomID.String()).
		Str("event_id", parentEventID.String()).
		Msg("Capacity requested")

	parentEvent, err := b.client.GetEvent(ctx, evt.RoomID, parentEventID)
	if err != nil {
		return fmt.Errorf("failed to get parent event: %w", err)
	}

	mxcURI, body, err := extractImageData(parentEvent)
	if err != nil {
		return fmt.Errorf("parent event is not a valid image/sticker: %w", err)
	}

	r, err := b.analyzeImage(ctx, evt.RoomID, parentEventID, mxcURI, body)
	if err != nil {
		return fmt.Errorf("failed to analyze image: %w", err)
	}

	md := r.Markdown()
	if _, err := b.client.SendNoticeReply(ctx, evt.RoomID, parentEventID, md, report.MarkdownToHTML(md)); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}

	// The reply is the confirmation; the reaction only clutters the timeline
	if _, err := b.client.RedactEvent(ctx, evt.RoomID, evt.ID); err != nil {
		b.log.Warn().Err(err).Msg("Failed to redact reaction")
	}

	return nil
}

// extractImageData extracts the MXC URI and body text from an image or sticker event
func extractImageData(evt *event.Event) (mxcURI id.ContentURIString, body string, err error) {
	switch evt.Type {
	case event.EventSticker:
		// m.sticker content is not always parsed; fall back to raw
		if content, ok := evt.Content.Parsed.(*event.MessageEventContent); ok {
			return checkURI(content.URL, content.Body)
		}

		url, _ := evt.Content.Raw["url"].(string)
		body, _ := evt.Content.Raw["body"].(string)
		return checkURI(id.ContentURIString(url), body)

	case event.EventMessage:
		if content, ok := evt.Content.Parsed.(*event.MessageEventContent); ok {
			if content.MsgType != event.MsgImage {
				return "", "", fmt.Errorf("message is not an image (msgtype=%s)", content.MsgType)
			}
			return checkURI(content.URL, content.Body)
		}

		msgtype, _ := evt.Content.Raw["msgtype"].(string)
		if msgtype != string(event.MsgImage) {
			return "", "", fmt.Errorf("message is not an image (msgtype=%s)", msgtype)
		}

		url, _ := evt.Content.Raw["url"].(string)
		body, _ := evt.Content.Raw["body"].(string)
		return checkURI(id.ContentURIString(url), body)

	default:
		return "", "", fmt.Errorf("unsupported event type: %s", evt.Type.Type)
	}
}

func checkURI(uri id.ContentURIString, body string) (id.ContentURIString, string, error) {
	if uri == "" {
		return "", "", fmt.Errorf("event has no url (encrypted media is not supported)")
	}
	return uri, body, nil
}

// analyzeImage downloads the image, reconciles its capacity and records it
func (b *Bot) analyzeImage(ctx context.Context, roomID id.RoomID, eventID id.EventID, mxcURI id.ContentURIString, body string) (*report.Report, error) {
	img, err := b.loader.Load(ctx, string(mxcURI))
	if err != nil {
		return nil, err
	}

	// The event body is usually the original file name
	if path.Ext(body) != "" {
		img.Name = path.Base(body)
	}

	var fetcher session.CapacityFetcher
	if b.service != nil {
		fetcher = b.service
	}

	sess := session.New(reconcile.New(b.log, b.config.Server.EstimateTimeout), fetcher)
	res, err := sess.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	analysis := res.Analysis(now)
	analysis.RoomID = roomID.String()
	analysis.EventID = eventID.String()

	if err := storage.RecordAnalysis(b.storageDir, analysis); err != nil {
		b.log.Warn().Err(err).Msg("Failed to record analysis")
	}

	b.log.Info().
		Str("id", img.ID).
		Str("dimensions", img.Info.Dimensions().String()).
		Int64("max_bytes", res.Final.MaxBytes).
		Str("source", string(res.Final.Source)).
		Msg("Capacity analyzed")

	return report.FromResult(res, now), nil
}
