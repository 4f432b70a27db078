package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Marshal encodes v as canonical MessagePack: map keys sorted, integers
// in their smallest form.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes MessagePack data into v. Untyped values decode as
// map[string]any, int64, uint64 and float64.
func Unmarshal(data []byte, v any) error {
	return newDecoder(bytes.NewReader(data)).Decode(v)
}

func newEncoder(buf *bytes.Buffer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	return enc
}

func newDecoder(r *bytes.Reader) *msgpack.Decoder {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	return dec
}

// wire field names
const (
	fieldKind                = "kind"
	fieldMessageID           = "message_id"
	fieldOperation           = "operation"
	fieldEvent               = "event"
	fieldSentAt              = "sent_at"
	fieldSourceIdentity      = "source_identity"
	fieldDestinationIdentity = "destination_identity"
	fieldContentType         = "content_type"
	fieldPayload             = "payload"
	fieldCorrelationID       = "correlation_id"
	fieldTTL                 = "ttl_ms"
	fieldTransportHint       = "transport_hint"
	fieldDirection           = "direction"
)

type wireField struct {
	key   string
	value any
}

// Encode validates env and serializes it as a MessagePack map with
// sorted keys. Absent optional fields are written as nil, and the
// payload is embedded as a value rather than a byte string. The same
// logical envelope always produces the same bytes.
func Encode(env Envelope) ([]byte, error) {
	if err := Validate(env); err != nil {
		return nil, err
	}

	h := env.Head()
	var payload any
	if len(h.Payload) > 0 {
		payload = msgpack.RawMessage(h.Payload)
	}
	var ttl any
	if h.TTLMillis != nil {
		ttl = *h.TTLMillis
	}
	var hint any
	if h.TransportHint != nil {
		hint = string(*h.TransportHint)
	}

	fields := []wireField{
		{fieldKind, string(env.Kind())},
		{fieldMessageID, h.MessageID},
		{fieldSentAt, FormatTime(h.SentAt)},
		{fieldSourceIdentity, h.SourceIdentity},
		{fieldDestinationIdentity, h.DestinationIdentity},
		{fieldContentType, h.ContentType},
		{fieldPayload, payload},
		{fieldTTL, ttl},
		{fieldTransportHint, hint},
	}

	switch e := env.(type) {
	case *Command:
		fields = append(fields, wireField{fieldOperation, e.Operation})
	case *Result:
		fields = append(fields,
			wireField{fieldOperation, e.Operation},
			wireField{fieldCorrelationID, e.CorrelationID})
	case *Event:
		fields = append(fields, wireField{fieldEvent, e.Name})
	case *Transfer:
		var correlation any
		if e.CorrelationID != nil {
			correlation = *e.CorrelationID
		}
		fields = append(fields,
			wireField{fieldOperation, e.Operation},
			wireField{fieldDirection, string(e.Direction)},
			wireField{fieldCorrelationID, correlation})
	}
	slices.SortFunc(fields, func(a, b wireField) int { return strings.Compare(a.key, b.key) })

	var buf bytes.Buffer
	enc := newEncoder(&buf)
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", env.Kind(), err)
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return nil, fmt.Errorf("failed to encode %s envelope: %w", env.Kind(), err)
		}
		if err := enc.Encode(f.value); err != nil {
			return nil, fmt.Errorf("failed to encode %s envelope field %s: %w", env.Kind(), f.key, err)
		}
	}
	return buf.Bytes(), nil
}

// FormatTime renders t as an RFC 3339 UTC timestamp whose fraction has
// zero, three, six or nine digits, whichever is the shortest exact form.
func FormatTime(t time.Time) string {
	t = t.UTC()
	ns := t.Nanosecond()
	switch {
	case ns == 0:
		return t.Format("2006-01-02T15:04:05Z")
	case ns%1_000_000 == 0:
		return t.Format("2006-01-02T15:04:05.000Z")
	case ns%1_000 == 0:
		return t.Format("2006-01-02T15:04:05.000000Z")
	default:
		return t.Format("2006-01-02T15:04:05.000000000Z")
	}
}

// Decode parses and validates an envelope. Structural problems are
// reported as *ValidationError naming the offending field.
func Decode(data []byte) (Envelope, error) {
	fields, err := readFields(data)
	if err != nil {
		return nil, invalid("envelope", "not a MessagePack map: "+err.Error())
	}

	d := fieldDecoder{fields: fields}
	kind := Kind(d.text(fieldKind, true))
	h := Header{
		MessageID:           d.text(fieldMessageID, true),
		SourceIdentity:      d.text(fieldSourceIdentity, true),
		DestinationIdentity: d.text(fieldDestinationIdentity, true),
		ContentType:         d.text(fieldContentType, true),
		Payload:             d.payload(),
	}
	if sentAt := d.text(fieldSentAt, true); d.err == nil {
		t, err := time.Parse(time.RFC3339Nano, sentAt)
		if err != nil {
			d.fail(invalid(fieldSentAt, "must be an RFC 3339 timestamp"))
		}
		h.SentAt = t.UTC()
	}
	if ttl, ok := d.unsigned(fieldTTL); ok {
		h.TTLMillis = &ttl
	}
	if hint := d.text(fieldTransportHint, false); hint != "" {
		t := TransportHint(hint)
		h.TransportHint = &t
	}
	if d.err != nil {
		return nil, d.err
	}

	var env Envelope
	switch kind {
	case KindCommand:
		env = &Command{Header: h, Operation: d.text(fieldOperation, true)}
	case KindResult:
		env = &Result{
			Header:        h,
			Operation:     d.text(fieldOperation, true),
			CorrelationID: d.text(fieldCorrelationID, true),
		}
	case KindEvent:
		env = &Event{Header: h, Name: d.text(fieldEvent, true)}
	case KindTransfer:
		t := &Transfer{
			Header:    h,
			Operation: d.text(fieldOperation, true),
			Direction: Direction(d.text(fieldDirection, true)),
		}
		if correlation := d.text(fieldCorrelationID, false); correlation != "" {
			t.CorrelationID = &correlation
		}
		env = t
	default:
		return nil, invalid(fieldKind, fmt.Sprintf("unknown envelope kind %q", kind))
	}
	if d.err != nil {
		return nil, d.err
	}

	if err := Validate(env); err != nil {
		return nil, err
	}
	return env, nil
}

// readFields splits a top-level MessagePack map into raw values by key.
func readFields(data []byte) (map[string]msgpack.RawMessage, error) {
	r := bytes.NewReader(data)
	dec := newDecoder(r)
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("nil map")
	}
	fields := make(map[string]msgpack.RawMessage, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, err
		}
		fields[key] = raw
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return fields, nil
}

// fieldDecoder decodes individual wire fields, keeping the first error.
// A nil value counts as absent.
type fieldDecoder struct {
	fields map[string]msgpack.RawMessage
	err    error
}

func (d *fieldDecoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func isNil(raw msgpack.RawMessage) bool {
	return len(raw) == 1 && raw[0] == msgpcode.Nil
}

func (d *fieldDecoder) value(name string, required bool) (any, bool) {
	if d.err != nil {
		return nil, false
	}
	raw, ok := d.fields[name]
	if !ok || isNil(raw) {
		if required {
			d.fail(missing(name))
		}
		return nil, false
	}
	var v any
	if err := Unmarshal(raw, &v); err != nil {
		d.fail(invalid(name, err.Error()))
		return nil, false
	}
	return v, true
}

func (d *fieldDecoder) text(name string, required bool) string {
	v, ok := d.value(name, required)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(invalid(name, "must be a string"))
		return ""
	}
	return s
}

func (d *fieldDecoder) unsigned(name string) (uint64, bool) {
	v, ok := d.value(name, false)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	d.fail(invalid(name, "must be a non-negative integer"))
	return 0, false
}

// payload returns the embedded payload value as canonical bytes. The key
// is required; a nil value is an empty payload.
func (d *fieldDecoder) payload() []byte {
	if d.err != nil {
		return nil
	}
	raw, ok := d.fields[fieldPayload]
	if !ok {
		d.fail(missing(fieldPayload))
		return nil
	}
	if isNil(raw) {
		return []byte{}
	}
	return bytes.Clone(raw)
}

// checkPayload reports whether payload holds exactly one MessagePack value.
func checkPayload(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	r := bytes.NewReader(payload)
	if err := newDecoder(r).Skip(); err != nil {
		return invalid(fieldPayload, "not a MessagePack value: "+err.Error())
	}
	if r.Len() != 0 {
		return invalid(fieldPayload, "trailing bytes after MessagePack value")
	}
	return nil
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
