package bot

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"maunium.net/go/mautrix/event"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// fakeHomeserver serves one image event and records replies and redactions
type fakeHomeserver struct {
	t     *testing.T
	image []byte

	mu       sync.Mutex
	replies  []map[string]interface{}
	redacted []string
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.Contains(path, "/event/"):
		_, _ = io.WriteString(w, `{
			"type": "m.room.message",
			"event_id": "$image",
			"room_id": "!room:example.org",
			"sender": "@alice:example.org",
			"origin_server_ts": 1700000000000,
			"content": {"msgtype": "m.image", "body": "photo.png", "url": "mxc://example.org/abc"}
		}`)

	case strings.Contains(path, "/download/example.org/abc"):
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(f.image)

	case strings.Contains(path, "/send/m.room.message/"):
		var content map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
			f.t.Errorf("Failed to decode reply: %v", err)
		}
		f.mu.Lock()
		f.replies = append(f.replies, content)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"event_id": "$reply"}`)

	case strings.Contains(path, "/redact/"):
		f.mu.Lock()
		f.redacted = append(f.redacted, path)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"event_id": "$redaction"}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errcode": "M_NOT_FOUND", "error": "not found"}`)
	}
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func capacityReaction(key string) *event.Event {
	return &event.Event{
		Type:   event.EventReaction,
		ID:     "$reaction",
		RoomID: "!room:example.org",
		Sender: "@test:matrix.org",
		Content: event.Content{Parsed: &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: "$image", Key: key},
		}},
	}
}

// TestProcessReaction verifies a capacity reaction is analyzed, recorded and answered
func TestProcessReaction(t *testing.T) {
	hs := &fakeHomeserver{t: t, image: testPNG(t, 100, 100)}
	srv := httptest.NewServer(hs)
	defer srv.Close()

	bot, tmpDir := newTestBotAt(t, srv.URL, &fakeService{estimate: capacity.ServerEstimate(4000)})

	if err := bot.processReaction(bot.ctx, capacityReaction("!capacity")); err != nil {
		t.Fatalf("processReaction failed: %v", err)
	}

	analyses, err := storage.ListAnalyses(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("Expected 1 recorded analysis, got %d", len(analyses))
	}
	a := analyses[0]
	if a.RoomID != "!room:example.org" || a.EventID != "$image" {
		t.Errorf("Expected room/event to be recorded, got %s / %s", a.RoomID, a.EventID)
	}
	if a.Name != "photo.png" || a.Width != 100 || a.Height != 100 {
		t.Errorf("Unexpected image details: %+v", a)
	}
	// 100*100*3/8 = 3750 raw, 85% = 3187
	if a.ClientBytes != 3187 {
		t.Errorf("Expected client estimate 3187, got %d", a.ClientBytes)
	}
	if a.FinalBytes != 4000 || a.FinalSource != "server" {
		t.Errorf("Expected server estimate 4000 to win, got %d (%s)", a.FinalBytes, a.FinalSource)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	if len(hs.replies) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(hs.replies))
	}
	body, _ := hs.replies[0]["body"].(string)
	for _, want := range []string{"**Capacity of photo.png**", "4,000 bytes", "3,187 bytes"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected reply to contain %q, got:\n%s", want, body)
		}
	}
	if msgtype, _ := hs.replies[0]["msgtype"].(string); msgtype != "m.notice" {
		t.Errorf("Expected m.notice reply, got %q", msgtype)
	}
	if formatted, _ := hs.replies[0]["formatted_body"].(string); !strings.Contains(formatted, "<strong>Capacity of photo.png</strong>") {
		t.Errorf("Expected HTML report, got: %s", formatted)
	}

	if len(hs.redacted) != 1 || !strings.Contains(hs.redacted[0], "$reaction") {
		t.Errorf("Expected the reaction to be redacted, got %v", hs.redacted)
	}
}

// TestProcessReaction_IgnoresOtherReactions verifies unrelated reactions do nothing
func TestProcessReaction_IgnoresOtherReactions(t *testing.T) {
	hs := &fakeHomeserver{t: t}
	srv := httptest.NewServer(hs)
	defer srv.Close()

	bot, tmpDir := newTestBotAt(t, srv.URL, nil)

	if err := bot.processReaction(bot.ctx, capacityReaction("👍")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	analyses, _ := storage.ListAnalyses(tmpDir)
	if len(analyses) != 0 || len(hs.replies) != 0 {
		t.Errorf("Expected nothing recorded or sent, got %d analyses and %d replies", len(analyses), len(hs.replies))
	}
}
