// Package message defines the internal representation shared by every
// transport. A transport translates its platform's native events into
// Messages and publishes them on buses; other transports render the
// Messages back into their own platform's format.
package message

import "fmt"

// Kind discriminates the message variants.
type Kind int

const (
	// KindText is an ordinary user text message.
	KindText Kind = iota
	// KindAction is a /me style action message.
	KindAction
	// KindBot is a message authored by an automated service.
	KindBot
	// KindDelete removes a previously relayed message.
	KindDelete
	// KindNames carries a channel member listing.
	KindNames
	// KindPin pins or unpins a previously relayed message.
	KindPin
	// KindReaction adds or removes an emoji reaction.
	KindReaction
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAction:
		return "action"
	case KindBot:
		return "bot"
	case KindDelete:
		return "delete"
	case KindNames:
		return "names"
	case KindPin:
		return "pin"
	case KindReaction:
		return "reaction"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Thread locates a reply thread in the platforms that have one.
type Thread struct {
	Slack   *string
	Discord *uint64
}

// Attachment is an opaque rich-content attachment passed between
// transports. Fields mirror what the platforms expose; a transport uses
// the ones it understands and ignores the rest.
type Attachment struct {
	ID            uint64
	PipoID        *int64
	ServiceName   string
	ServiceURL    string
	AuthorName    string
	AuthorSubname string
	AuthorLink    string
	AuthorIcon    string
	Filename      string
	FromURL       string
	OriginalURL   string
	Footer        string
	FooterIcon    string
	ContentType   string
	Size          uint64
	Text          string
	ImageURL      string
	ImageBytes    uint64
	ImageHeight   uint64
	ImageWidth    uint64
	Fallback      string
}

// Message is one relayed event. Sender is the publishing transport's
// numeric id; every subscriber receives its own publishes back and must
// compare Sender to avoid loops. PipoID is the cross-platform
// correlation id allocated by the store.
type Message struct {
	Kind        Kind
	Sender      int
	PipoID      int64
	Transport   string
	Bus         string
	Username    string
	AvatarURL   string
	Thread      *Thread
	Body        string
	Attachments []Attachment
	IsEdit      bool
	IRCFlag     bool

	// Reaction fields.
	Emoji  string
	Remove bool
}

// String renders the body, or a placeholder for bodyless variants.
func (m Message) String() string {
	switch m.Kind {
	case KindDelete:
		return "Delete message"
	case KindPin:
		return "Pin message"
	case KindReaction:
		return fmt.Sprintf(":%s:", m.Emoji)
	}
	if m.Body == "" {
		return "Empty message"
	}
	return m.Body
}
