// Package envelope defines the canonical binary message unit exchanged
// across the mesh and its codec.
//
// Four envelope kinds share a common Header:
//   - Command: an operation request sent toward a destination identity
//   - Result: the reply to a Command, linked by CorrelationID
//   - Event: an unsolicited, fire-and-forget notification
//   - Transfer: one chunk or status frame of a file transfer
//
// Envelopes are encoded as MessagePack maps with sorted keys and
// smallest-form integers, so identical logical content always yields
// identical bytes. The payload is embedded as a MessagePack value and
// every envelope carries a "kind" key naming its variant. Encode validates before it serializes and Decode validates
// after it parses; both report problems as *ValidationError naming the
// offending field.
//
// Example usage:
//
//	payload, err := envelope.PayloadFromJSON([]byte(`{"severity":"high"}`))
//	if err != nil {
//		return err
//	}
//	cmd := envelope.NewCommand("emergency_action_message.create", self, dest, payload)
//	data, err := envelope.Encode(cmd)
//	if err != nil {
//		return err
//	}
//
//	decoded, err := envelope.Decode(data)
//	var verr *envelope.ValidationError
//	if errors.As(err, &verr) {
//		log.Printf("rejected envelope: field %s", verr.Field)
//	}
package envelope
