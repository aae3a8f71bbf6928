package domain

// InboundEvent is one webhook delivery from the messaging platform. It is
// decoded per request and never persisted.
type InboundEvent struct {
	Object string  `json:"object,omitempty"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging items of one page subscription.
type Entry struct {
	ID        string      `json:"id,omitempty"`
	Time      int64       `json:"time,omitempty"`
	Messaging []Messaging `json:"messaging"`
}

// Party identifies a sender or a recipient.
type Party struct {
	ID string `json:"id"`
}

// Messaging is a single item addressed to the bot by one sender.
type Messaging struct {
	Sender    Party     `json:"sender"`
	Recipient Party     `json:"recipient"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Postback  *Postback `json:"postback,omitempty"`
}

// Message is the user-authored part of a Messaging item. Text is a pointer
// so an empty string sent by the platform is still recognised as text.
type Message struct {
	MID         string       `json:"mid,omitempty"`
	Text        *string      `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Postback is emitted by buttons such as "Get Started".
type Postback struct {
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Attachment is a media reference. Only Type == "image" is processed.
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// AttachmentPayload carries the platform-hosted URL of the media.
type AttachmentPayload struct {
	URL string `json:"url"`
}

// MessagingKind is the variant of a Messaging item.
type MessagingKind int

const (
	KindUnrecognized MessagingKind = iota
	KindPostback
	KindText
	KindAttachments
)

// String implements fmt.Stringer for log fields.
func (k MessagingKind) String() string {
	switch k {
	case KindPostback:
		return "postback"
	case KindText:
		return "text"
	case KindAttachments:
		return "attachments"
	default:
		return "unrecognized"
	}
}

// Kind classifies the item. Postback wins over message content, and text wins
// over attachments when both are present.
func (m Messaging) Kind() MessagingKind {
	switch {
	case m.Postback != nil:
		return KindPostback
	case m.Message == nil:
		return KindUnrecognized
	case m.Message.Text != nil:
		return KindText
	case len(m.Message.Attachments) > 0:
		return KindAttachments
	default:
		return KindUnrecognized
	}
}

// IsImage reports whether the attachment is actionable.
func (a Attachment) IsImage() bool { return a.Type == "image" }
