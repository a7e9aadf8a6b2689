package wire

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashJSON returns the hex SHA1 of the compact JSON serialization of v.
// Used for event document IDs and unack-set keys.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize for hashing: %w", err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashRaw returns the hex SHA1 of a raw JSON value in canonical form:
// decoded and re-encoded so that whitespace is stripped and object keys are
// sorted. Receipt checksums use this so that the hash of an event's data is
// stable regardless of how the client formatted it.
func HashRaw(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("parse for hashing: %w", err)
	}
	return HashJSON(v)
}

// AckKey returns the unack-set key for an event: the hash of the event as
// the client must echo it in an "ack" frame, message_type included.
func AckKey(ev Event) (string, error) {
	ev.MessageType = TypeAck
	return HashJSON(ev)
}
