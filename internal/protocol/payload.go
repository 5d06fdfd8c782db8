package protocol

import (
	"fmt"
	"strings"
)

// payloadTag identifies version 1 of the QR wire format. The colon-delimited
// four-field form is a compatibility contract with deployed scanning clients;
// a future version bumps the tag, not the field layout of v1.
const payloadTag = "attendance"

// Payload is the decoded QR content. ClassID and IssuerID are redundant
// validation fields: the scanning client may forward only SessionID, but when
// present they are cross-checked against the stored session.
type Payload struct {
	Version   int
	SessionID string
	ClassID   string
	IssuerID  string
}

// Encode renders the payload in the v1 wire format
// "attendance:<session_id>:<class_id>:<issuer_id>".
func (p Payload) Encode() string {
	return strings.Join([]string{payloadTag, p.SessionID, p.ClassID, p.IssuerID}, ":")
}

// ParsePayload validates and decodes a scanned QR string.
func ParsePayload(s string) (Payload, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Payload{}, fmt.Errorf("%w: payload must have 4 fields, got %d", ErrInvalidInput, len(parts))
	}
	if parts[0] != payloadTag {
		return Payload{}, fmt.Errorf("%w: unrecognized payload tag %q", ErrInvalidInput, parts[0])
	}
	if parts[1] == "" {
		return Payload{}, fmt.Errorf("%w: empty session id", ErrInvalidInput)
	}
	return Payload{
		Version:   1,
		SessionID: parts[1],
		ClassID:   parts[2],
		IssuerID:  parts[3],
	}, nil
}
