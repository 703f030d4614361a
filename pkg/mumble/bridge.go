package mumble

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/nemored/pipo/pkg/message"
)

// TransportName is the display name other transports render for
// messages originating here.
const TransportName = "Mumble"

// Correlator allocates cross-platform correlation ids. The Mumble
// transport is insert-only: the wire protocol exposes no edits or
// deletes, so ids are never looked up again from this side.
type Correlator interface {
	Insert(ctx context.Context) (int64, error)
}

// bridge translates between bus messages and wire frames. It holds no
// connection state; resolution goes through the state cache.
type bridge struct {
	transportID int
	store       Correlator
	state       *stateCache
	log         zerolog.Logger
}

// inboundText fans one wire TextMessage out to the buses of its target
// channels. Failures are per-frame or per-channel: an unresolvable
// actor skips the frame, an unmapped channel skips that channel only,
// and neither touches the connection. Returns the number of published
// messages.
func (b *bridge) inboundText(ctx context.Context, tm *TextMessage) int {
	if tm.Actor == nil {
		b.log.Warn().Msg("text message without actor, skipped")
		return 0
	}
	username, ok := b.state.usernameForSession(*tm.Actor)
	if !ok {
		b.log.Warn().
			Uint32("session", *tm.Actor).
			Msg("text message from unknown session, skipped")
		return 0
	}

	// Wire text content is HTML-escaped.
	body := html.UnescapeString(tm.Message)

	published := 0
	for _, chanID := range tm.ChannelID {
		target, ok := b.state.busForChannelID(chanID)
		if !ok {
			b.log.Debug().
				Uint32("channel_id", chanID).
				Msg("text message for unmapped channel, ignored")
			continue
		}

		pipoID, err := b.store.Insert(ctx)
		if err != nil {
			b.log.Warn().Err(err).
				Uint32("channel_id", chanID).
				Msg("correlation id allocation failed, message skipped")
			continue
		}

		m := message.Message{
			Kind:      message.KindText,
			Sender:    b.transportID,
			PipoID:    pipoID,
			Transport: TransportName,
			Bus:       target.Name(),
			Username:  username,
			Body:      body,
		}
		if err := target.Send(m); err != nil {
			b.log.Warn().Err(err).
				Str("bus", target.Name()).
				Msg("bus send failed")
			continue
		}
		published++
	}
	return published
}

// outboundText renders a bus message into the TextMessage frame to
// send, or nil when the message is not for the wire (our own echo, or
// a kind this protocol cannot express). A non-nil error means the
// message should have been sent but could not be resolved; the caller
// logs and drops it without touching the connection.
func (b *bridge) outboundText(m message.Message) (*TextMessage, error) {
	if m.Sender == b.transportID {
		return nil, nil
	}

	var body string
	switch m.Kind {
	case message.KindText:
		body = formatText(m.Transport, m.Username, m.Body, m.IsEdit)
	case message.KindAction:
		body = formatAction(m.Transport, m.Username, m.Body, m.IsEdit)
	default:
		// Bot, Delete, Pin, Reaction, Names: no wire equivalent.
		b.log.Debug().
			Stringer("kind", m.Kind).
			Msg("bus message kind not bridged to wire")
		return nil, nil
	}

	actor, ok := b.state.actorID()
	if !ok {
		return nil, fmt.Errorf("drop message for bus %q: %w", m.Bus, ErrActorUnresolved)
	}
	chanID, ok := b.state.channelIDForBus(m.Bus)
	if !ok {
		return nil, fmt.Errorf("drop message for bus %q: %w", m.Bus, ErrChannelUnmapped)
	}

	return &TextMessage{
		Actor:     pu32(actor),
		ChannelID: []uint32{chanID},
		Message:   body,
	}, nil
}

// pingPacket builds the periodic keepalive.
func pingPacket() *Ping {
	return &Ping{Timestamp: pu64(uint64(time.Now().Unix()))}
}

// transportInitial is the single-letter origin marker prefixed to
// relayed messages: the uppercased first rune of the transport name.
func transportInitial(transport string) rune {
	for _, r := range transport {
		return unicode.ToUpper(r)
	}
	return '?'
}

func editPrefix(isEdit bool) string {
	if isEdit {
		return "EDIT: "
	}
	return ""
}

// formatText renders a relayed text message in Mumble's HTML markup:
// "T!<b>username</b>: body".
func formatText(transport, username, body string, isEdit bool) string {
	var sb strings.Builder
	sb.WriteRune(transportInitial(transport))
	sb.WriteString("!<b>")
	sb.WriteString(html.EscapeString(username))
	sb.WriteString("</b>: ")
	sb.WriteString(editPrefix(isEdit))
	sb.WriteString(html.EscapeString(body))
	return sb.String()
}

// formatAction renders a relayed action message:
// "<i>*T!<b>username</b> body</i>".
func formatAction(transport, username, body string, isEdit bool) string {
	var sb strings.Builder
	sb.WriteString("<i>")
	sb.WriteString(editPrefix(isEdit))
	sb.WriteString("*")
	sb.WriteRune(transportInitial(transport))
	sb.WriteString("!<b>")
	sb.WriteString(html.EscapeString(username))
	sb.WriteString("</b> ")
	sb.WriteString(html.EscapeString(body))
	sb.WriteString("</i>")
	return sb.String()
}
