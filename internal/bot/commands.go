package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/liminalpurple/stegmeter/internal/report"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

const commandPrefix = "!stegmeter"

// defaultHistoryLimit is how many analyses "history" lists without an argument
const defaultHistoryLimit = 10

// handleMessage processes text messages looking for !stegmeter commands
func (b *Bot) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender != b.client.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	// Skip edits so our own results are not re-run
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	if content.MsgType != event.MsgText {
		return
	}

	body := strings.TrimSpace(content.Body)
	if !isCommand(body) {
		return
	}

	b.log.Debug().Str("command", body).Msg("Processing command")

	result := b.executeCommand(ctx, body)

	if err := b.editMessage(ctx, evt.RoomID, evt.ID, body, result); err != nil {
		b.log.Error().Err(err).Msg("Error editing message")
	}
}

// isCommand reports whether body is "!stegmeter" or starts with "!stegmeter "
func isCommand(body string) bool {
	return body == commandPrefix || strings.HasPrefix(body, commandPrefix+" ")
}

// showHelp returns a help message with all available commands
func (b *Bot) showHelp() string {
	return "Capacity:\n\n" +
		"- React to any image or sticker with `!capacity`, `!cap`, or `!steg` for a capacity report\n\n" +
		"History:\n\n" +
		"- !stegmeter history [count] - List recent analyses\n" +
		"- !stegmeter show <id> - Show a recorded analysis\n" +
		"- !stegmeter delete <id> - Delete a recorded analysis\n\n" +
		"Service:\n\n" +
		"- !stegmeter health - Check the steganography service\n\n" +
		"**Client estimates are a heuristic (3 bits per pixel, 85% usable); the service's number wins when it answers.**"
}

// executeCommand parses and executes a !stegmeter command
func (b *Bot) executeCommand(ctx context.Context, body string) string {
	args := strings.Fields(strings.TrimPrefix(strings.TrimSpace(body), commandPrefix))
	if len(args) == 0 {
		return b.showHelp()
	}

	switch args[0] {
	case "help":
		return b.showHelp()
	case "history", "list":
		limit := defaultHistoryLimit
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Sprintf("❌ Invalid count: %s", args[1])
			}
			limit = n
		}
		return b.historyList(limit)
	case "show":
		if len(args) < 2 {
			return "❌ Usage: !stegmeter show <id>"
		}
		return b.historyShow(args[1])
	case "delete", "remove":
		if len(args) < 2 {
			return "❌ Usage: !stegmeter delete <id>"
		}
		return b.historyDelete(args[1])
	case "health":
		return b.serviceHealth(ctx)
	default:
		return fmt.Sprintf("❌ Unknown command: %s\n\n%s", args[0], b.showHelp())
	}
}

// historyList lists the most recent analyses
func (b *Bot) historyList(limit int) string {
	analyses, err := storage.ListAnalyses(b.storageDir)
	if err != nil {
		return fmt.Sprintf("❌ Error loading history: %v", err)
	}

	if len(analyses) == 0 {
		return "No analyses yet. React to an image with `!capacity` to analyze it."
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("**History** (%d of %d):\n\n", min(limit, len(analyses)), len(analyses)))

	for i, a := range analyses {
		if i >= limit {
			break
		}
		r := report.FromAnalysis(a)
		result.WriteString(fmt.Sprintf("%d. `%s` %s (%s) - %s, %s\n",
			i+1, shortID(a.ID), a.Name, r.Dimensions, report.Bytes(a.FinalBytes), a.FinalSource))
	}

	return result.String()
}

// historyShow renders one recorded analysis
func (b *Bot) historyShow(idPrefix string) string {
	a, err := storage.GetAnalysis(b.storageDir, idPrefix)
	if err != nil {
		return fmt.Sprintf("❌ %s", describeLookupError(err, idPrefix))
	}

	return report.FromAnalysis(*a).Markdown()
}

// historyDelete removes one recorded analysis
func (b *Bot) historyDelete(idPrefix string) string {
	fullID, err := storage.DeleteAnalysis(b.storageDir, idPrefix)
	if err != nil {
		return fmt.Sprintf("❌ %s", describeLookupError(err, idPrefix))
	}

	return fmt.Sprintf("✅ Deleted analysis `%s`", shortID(fullID))
}

// serviceHealth asks the steganography service for its status
func (b *Bot) serviceHealth(ctx context.Context) string {
	if b.service == nil {
		return "❌ No steganography service configured (running offline)"
	}

	h, err := b.service.Health(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Service unavailable: %v", err)
	}

	return fmt.Sprintf("✅ Service status: %s (version %s)", h.Status, h.Version)
}

func describeLookupError(err error, idPrefix string) string {
	switch {
	case errors.Is(err, storage.ErrAmbiguous):
		return fmt.Sprintf("ID prefix %s matches more than one analysis, use more characters", idPrefix)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Sprintf("No analysis matches %s (prefixes need at least %d characters)", idPrefix, storage.MinPrefixLength)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// editMessage edits a message to show the command result
func (b *Bot) editMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, originalBody, result string) error {
	newBody := fmt.Sprintf("%s\n\n%s", originalBody, result)
	return b.client.EditMessage(ctx, roomID, eventID, newBody, report.MarkdownToHTML(newBody))
}
