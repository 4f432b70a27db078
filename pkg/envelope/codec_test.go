package envelope

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var fixedTime = time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)

func fixedHeader(t *testing.T) Header {
	t.Helper()
	payload, err := EncodePayload(map[string]any{"severity": "high", "units": int64(3)})
	require.NoError(t, err)
	return Header{
		MessageID:           "0190f6d4-7c1e-7a00-9b7e-4c2b1f0e9a11",
		SentAt:              fixedTime,
		SourceIdentity:      "a1b2c3d4e5f60718",
		DestinationIdentity: "f0e1d2c3b4a59687",
		ContentType:         ContentType,
		Payload:             payload,
	}
}

func allKinds(t *testing.T) []Envelope {
	t.Helper()
	correlation := "0190f6d4-7c1e-7a00-9b7e-4c2b1f0e9a10"

	withTTL := fixedHeader(t)
	withTTL.SetTTL(30 * time.Second)
	withTTL.SetTransport(TransportPropagation)

	return []Envelope{
		&Command{Header: withTTL, Operation: "emergency_action_message.create"},
		&Result{Header: fixedHeader(t), Operation: "emergency_action_message.create", CorrelationID: correlation},
		&Event{Header: fixedHeader(t), Name: "emergency_action_message.updated"},
		&Transfer{Header: fixedHeader(t), Operation: "file.upload", Direction: DirectionUpload, CorrelationID: &correlation},
		&Transfer{Header: fixedHeader(t), Operation: "file.download", Direction: DirectionDownload},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, env := range allKinds(t) {
		t.Run(string(env.Kind()), func(t *testing.T) {
			data, err := Encode(env)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, env, decoded)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	for _, env := range allKinds(t) {
		first, err := Encode(env)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := Encode(env)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}

	t.Run("payload key order does not matter", func(t *testing.T) {
		a, err := PayloadFromJSON([]byte(`{"b":1,"a":{"y":true,"x":[1,2]}}`))
		require.NoError(t, err)
		b, err := PayloadFromJSON([]byte(`{"a":{"x":[1,2],"y":true},"b":1}`))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("time zone does not matter", func(t *testing.T) {
		h := fixedHeader(t)
		utc := &Command{Header: h, Operation: "node.ping"}
		local := &Command{Header: h, Operation: "node.ping"}
		local.SentAt = fixedTime.In(time.FixedZone("UTC+5", 5*3600))

		a, err := Encode(utc)
		require.NoError(t, err)
		b, err := Encode(local)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestDecodeMissingRequiredField(t *testing.T) {
	cmd := &Result{Header: fixedHeader(t), Operation: "node.ping", CorrelationID: "abc"}
	data, err := Encode(cmd)
	require.NoError(t, err)

	fields, err := readFields(data)
	require.NoError(t, err)

	optional := map[string]bool{fieldTTL: true, fieldTransportHint: true}
	for name := range fields {
		if optional[name] {
			continue
		}
		t.Run(name, func(t *testing.T) {
			reduced := make(map[string]msgpack.RawMessage, len(fields)-1)
			for k, v := range fields {
				if k != name {
					reduced[k] = v
				}
			}
			stripped, err := Marshal(reduced)
			require.NoError(t, err)

			_, err = Decode(stripped)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T: %v", err, err)
			assert.Equal(t, name, verr.Field)
		})
	}

	t.Run("nil counts as missing", func(t *testing.T) {
		nulled := make(map[string]msgpack.RawMessage, len(fields))
		for k, v := range fields {
			nulled[k] = v
		}
		nulled[fieldCorrelationID] = msgpack.RawMessage{0xc0}
		data, err := Marshal(nulled)
		require.NoError(t, err)

		_, err = Decode(data)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, fieldCorrelationID, verr.Field)
	})
}

// encodedKeys returns the top-level map keys of data in wire order.
func encodedKeys(t *testing.T, data []byte) []string {
	t.Helper()
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	require.NoError(t, err)
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		require.NoError(t, err)
		keys = append(keys, key)
		require.NoError(t, dec.Skip())
	}
	return keys
}

func TestEncodeWireLayout(t *testing.T) {
	data, err := Encode(&Command{Header: fixedHeader(t), Operation: "emergency_action_message.create"})
	require.NoError(t, err)

	// fixmap header
	assert.Equal(t, byte(0x80), data[0]&0xf0, "encoded envelope is not a MessagePack map")

	assert.Equal(t, []string{
		"content_type", "destination_identity", "kind", "message_id", "operation",
		"payload", "sent_at", "source_identity", "transport_hint", "ttl_ms",
	}, encodedKeys(t, data))

	var fields map[string]any
	require.NoError(t, Unmarshal(data, &fields))
	assert.Equal(t, "application/msgpack", fields["content_type"])
	assert.Equal(t, "command", fields["kind"])
	assert.Equal(t, "2026-03-14T15:09:26.535897Z", fields["sent_at"])
	assert.Equal(t, map[string]any{"severity": "high", "units": int64(3)}, fields["payload"])
	assert.Contains(t, fields, "ttl_ms")
	assert.Nil(t, fields["ttl_ms"])
	assert.Nil(t, fields["transport_hint"])

	t.Run("transfer keys", func(t *testing.T) {
		data, err := Encode(&Transfer{Header: fixedHeader(t), Operation: "file.upload", Direction: DirectionUpload})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"content_type", "correlation_id", "destination_identity", "direction", "kind", "message_id",
			"operation", "payload", "sent_at", "source_identity", "transport_hint", "ttl_ms",
		}, encodedKeys(t, data))
	})

	t.Run("canonical payload bytes", func(t *testing.T) {
		payload, err := PayloadFromJSON([]byte(`{"b":1,"a":true}`))
		require.NoError(t, err)
		assert.Equal(t, []byte{0x82, 0xa1, 'a', 0xc3, 0xa1, 'b', 0x01}, payload)
	})
}

func TestFormatTime(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-01-02T03:04:05Z", FormatTime(base))
	assert.Equal(t, "2026-01-02T03:04:05.120Z", FormatTime(base.Add(120*time.Millisecond)))
	assert.Equal(t, "2026-01-02T03:04:05.000007Z", FormatTime(base.Add(7*time.Microsecond)))
	assert.Equal(t, "2026-01-02T03:04:05.000000001Z", FormatTime(base.Add(time.Nanosecond)))
	assert.Equal(t, "2026-01-02T03:04:05Z", FormatTime(base.In(time.FixedZone("UTC-3", -3*3600))))
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	valid, err := Encode(&Command{Header: fixedHeader(t), Operation: "node.ping"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, Unmarshal(valid, &fields))

	mutate := func(key string, value any) []byte {
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		copied[key] = value
		data, err := Marshal(copied)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{"not a map", []byte{0x01}, "envelope"},
		{"wrong content type", mutate("content_type", "application/json"), "content_type"},
		{"unknown kind", mutate("kind", "query"), "kind"},
		{"message id wrong shape", mutate("message_id", 42), "message_id"},
		{"negative ttl", mutate("ttl_ms", -5), "ttl_ms"},
		{"bad transport hint", mutate("transport_hint", "carrier-pigeon"), "transport_hint"},
		{"bad sent_at", mutate("sent_at", "yesterday"), "sent_at"},
		{"operation not namespaced", mutate("operation", "ping"), "operation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEncodeRejectsInvalidEnvelope(t *testing.T) {
	t.Run("result without correlation id", func(t *testing.T) {
		_, err := Encode(&Result{Header: fixedHeader(t), Operation: "node.ping"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "correlation_id", verr.Field)
	})

	t.Run("transfer without direction", func(t *testing.T) {
		_, err := Encode(&Transfer{Header: fixedHeader(t), Operation: "file.upload"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "direction", verr.Field)
	})

	t.Run("payload is not one MessagePack value", func(t *testing.T) {
		h := fixedHeader(t)
		h.Payload = append(h.Payload, 0x01)
		_, err := Encode(&Command{Header: h, Operation: "node.ping"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "payload", verr.Field)
	})

	t.Run("nil envelope", func(t *testing.T) {
		_, err := Encode(nil)
		assert.True(t, IsValidationError(err))
	})
}

func TestNewResultSwapsIdentities(t *testing.T) {
	cmd := NewCommand("node.ping", "source", "dest", nil)
	res := NewResult(cmd, nil)

	assert.Equal(t, cmd.MessageID, res.CorrelationID)
	assert.Equal(t, "dest", res.SourceIdentity)
	assert.Equal(t, "source", res.DestinationIdentity)
	assert.NotEqual(t, cmd.MessageID, res.MessageID)
	assert.NoError(t, Validate(res))
}

func TestMessageIDsAreTimeOrdered(t *testing.T) {
	prev := NewMessageID()
	for i := 0; i < 100; i++ {
		next := NewMessageID()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestPayloadJSONConversion(t *testing.T) {
	payload, err := PayloadFromJSON([]byte(`{"count": 3, "ratio": 0.5, "tags": ["a", "b"], "nested": {"ok": true}}`))
	require.NoError(t, err)

	out, err := PayloadToJSON(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count": 3, "ratio": 0.5, "tags": ["a", "b"], "nested": {"ok": true}}`, string(out))

	_, err = PayloadFromJSON([]byte(`{"broken":`))
	assert.True(t, IsValidationError(err))

	empty, err := PayloadFromJSON(nil)
	require.NoError(t, err)
	out, err = PayloadToJSON(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("operation", "emergency_action_message.create"))
	assert.NoError(t, ValidateName("operation", "a.b.c-d"))
	assert.Error(t, ValidateName("operation", ""))
	assert.Error(t, ValidateName("operation", "create"))
	assert.Error(t, ValidateName("operation", "Emergency.Create"))
	assert.Error(t, ValidateName("operation", "a..b"))
}
