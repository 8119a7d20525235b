package matrix

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// NoticeReply builds an m.notice replying to eventID
func NoticeReply(eventID id.EventID, body, formattedBody string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: eventID},
		},
	}
	if formattedBody != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = formattedBody
	}
	return content
}

// Edit builds an m.replace edit setting eventID's text to body
func Edit(eventID id.EventID, body, formattedBody string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: formattedBody,
		NewContent: &event.MessageEventContent{
			MsgType:       event.MsgText,
			Body:          body,
			Format:        event.FormatHTML,
			FormattedBody: formattedBody,
		},
		RelatesTo: &event.RelatesTo{
			Type:    event.RelReplace,
			EventID: eventID,
		},
	}
}

// SendNoticeReply replies to eventID with a notice
func (c *Client) SendNoticeReply(ctx context.Context, roomID id.RoomID, eventID id.EventID, body, formattedBody string) (id.EventID, error) {
	resp, err := c.SendMessageEvent(ctx, roomID, event.EventMessage, NoticeReply(eventID, body, formattedBody))
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// EditMessage replaces the text of eventID
func (c *Client) EditMessage(ctx context.Context, roomID id.RoomID, eventID id.EventID, body, formattedBody string) error {
	_, err := c.SendMessageEvent(ctx, roomID, event.EventMessage, Edit(eventID, body, formattedBody))
	return err
}
