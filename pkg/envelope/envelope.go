package envelope

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType is the only content type an envelope may carry.
const ContentType = "application/msgpack"

// Kind discriminates the four envelope variants on the wire.
type Kind string

const (
	KindCommand  Kind = "command"
	KindResult   Kind = "result"
	KindEvent    Kind = "event"
	KindTransfer Kind = "transfer"
)

// TransportHint records which mesh path carried (or should carry) an envelope.
type TransportHint string

const (
	// TransportLink is the direct link path.
	TransportLink TransportHint = "link"
	// TransportPropagation is the store-and-forward fallback path.
	TransportPropagation TransportHint = "propagation"
)

// Valid reports whether h is a known transport.
func (h TransportHint) Valid() bool {
	return h == TransportLink || h == TransportPropagation
}

// Direction is the direction of a file transfer relative to this node.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Header holds the fields shared by every envelope kind.
type Header struct {
	MessageID           string
	SentAt              time.Time
	SourceIdentity      string
	DestinationIdentity string
	ContentType         string
	// Payload holds one canonical MessagePack value, embedded as-is in
	// the encoded envelope. Empty means nil.
	Payload []byte

	TTLMillis     *uint64
	TransportHint *TransportHint
}

// TTL returns the envelope time-to-live, or zero when none is set.
func (h *Header) TTL() time.Duration {
	if h.TTLMillis == nil {
		return 0
	}
	return time.Duration(*h.TTLMillis) * time.Millisecond
}

// SetTTL sets ttl_ms; a non-positive duration clears it.
func (h *Header) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		h.TTLMillis = nil
		return
	}
	ms := uint64(ttl / time.Millisecond)
	h.TTLMillis = &ms
}

// SetTransport sets transport_hint.
func (h *Header) SetTransport(t TransportHint) {
	h.TransportHint = &t
}

// Transport returns transport_hint, or the empty hint when unset.
func (h *Header) Transport() TransportHint {
	if h.TransportHint == nil {
		return ""
	}
	return *h.TransportHint
}

// Envelope is implemented by *Command, *Result, *Event and *Transfer only.
type Envelope interface {
	Kind() Kind
	Head() *Header
	// Subject returns the operation name, or the event name for events.
	Subject() string
	isEnvelope()
}

// Command asks a destination identity to perform Operation.
type Command struct {
	Header
	Operation string
}

// Result answers the Command whose MessageID equals CorrelationID.
type Result struct {
	Header
	Operation     string
	CorrelationID string
}

// Event is an unsolicited notification named by Name.
type Event struct {
	Header
	Name string
}

// Transfer carries one frame of a file transfer.
type Transfer struct {
	Header
	Operation     string
	Direction     Direction
	CorrelationID *string
}

func (*Command) Kind() Kind  { return KindCommand }
func (*Result) Kind() Kind   { return KindResult }
func (*Event) Kind() Kind    { return KindEvent }
func (*Transfer) Kind() Kind { return KindTransfer }

func (c *Command) Head() *Header  { return &c.Header }
func (r *Result) Head() *Header   { return &r.Header }
func (e *Event) Head() *Header    { return &e.Header }
func (t *Transfer) Head() *Header { return &t.Header }

func (c *Command) Subject() string  { return c.Operation }
func (r *Result) Subject() string   { return r.Operation }
func (e *Event) Subject() string    { return e.Name }
func (t *Transfer) Subject() string { return t.Operation }

func (*Command) isEnvelope()  {}
func (*Result) isEnvelope()   {}
func (*Event) isEnvelope()    {}
func (*Transfer) isEnvelope() {}

// NewMessageID returns a time-ordered unique identifier (UUIDv7).
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails
		return uuid.NewString()
	}
	return id.String()
}

func newHeader(source, destination string, payload []byte) Header {
	if payload == nil {
		payload = []byte{}
	}
	return Header{
		MessageID:           NewMessageID(),
		SentAt:              time.Now().UTC(),
		SourceIdentity:      source,
		DestinationIdentity: destination,
		ContentType:         ContentType,
		Payload:             payload,
	}
}

// NewCommand builds a Command with a fresh message id and the current time.
func NewCommand(operation, source, destination string, payload []byte) *Command {
	return &Command{Header: newHeader(source, destination, payload), Operation: operation}
}

// NewResult builds the Result answering cmd. Source and destination are
// swapped relative to the command.
func NewResult(cmd *Command, payload []byte) *Result {
	return &Result{
		Header:        newHeader(cmd.DestinationIdentity, cmd.SourceIdentity, payload),
		Operation:     cmd.Operation,
		CorrelationID: cmd.MessageID,
	}
}

// NewEvent builds an Event.
func NewEvent(name, source, destination string, payload []byte) *Event {
	return &Event{Header: newHeader(source, destination, payload), Name: name}
}

// NewTransfer builds a Transfer frame.
func NewTransfer(operation string, direction Direction, source, destination string, payload []byte) *Transfer {
	return &Transfer{
		Header:    newHeader(source, destination, payload),
		Operation: operation,
		Direction: direction,
	}
}

// ValidateName checks a namespaced operation or event name such as
// "emergency_action_message.create": two or more dot-separated segments
// of lowercase letters, digits, '_' or '-'.
func ValidateName(field, name string) error {
	if name == "" {
		return missing(field)
	}
	segments := strings.Split(name, ".")
	if len(segments) < 2 {
		return invalid(field, "must be namespaced (e.g. resource.action)")
	}
	for _, seg := range segments {
		if seg == "" {
			return invalid(field, "empty name segment")
		}
		for _, r := range seg {
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
				return invalid(field, "contains invalid characters (allowed: a-z, 0-9, _, -, .)")
			}
		}
	}
	return nil
}

// Validate checks every structural rule for env's kind.
func Validate(env Envelope) error {
	if env == nil {
		return missing("envelope")
	}
	h := env.Head()
	if h.MessageID == "" {
		return missing("message_id")
	}
	if h.SentAt.IsZero() {
		return missing("sent_at")
	}
	if h.SourceIdentity == "" {
		return missing("source_identity")
	}
	if h.DestinationIdentity == "" {
		return missing("destination_identity")
	}
	if h.ContentType == "" {
		return missing("content_type")
	}
	if h.ContentType != ContentType {
		return invalid("content_type", "must be "+ContentType)
	}
	if h.TransportHint != nil && !h.TransportHint.Valid() {
		return invalid("transport_hint", "must be link or propagation")
	}
	if err := checkPayload(h.Payload); err != nil {
		return err
	}

	switch e := env.(type) {
	case *Command:
		return ValidateName("operation", e.Operation)
	case *Result:
		if err := ValidateName("operation", e.Operation); err != nil {
			return err
		}
		if e.CorrelationID == "" {
			return missing("correlation_id")
		}
	case *Event:
		return ValidateName("event", e.Name)
	case *Transfer:
		if err := ValidateName("operation", e.Operation); err != nil {
			return err
		}
		if e.Direction == "" {
			return missing("direction")
		}
		if e.Direction != DirectionUpload && e.Direction != DirectionDownload {
			return invalid("direction", "must be upload or download")
		}
		if e.CorrelationID != nil && *e.CorrelationID == "" {
			return invalid("correlation_id", "must not be empty when present")
		}
	}
	return nil
}
