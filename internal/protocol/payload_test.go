package protocol

import (
	"errors"
	"testing"
)

func TestPayload_EncodeParse(t *testing.T) {
	p := Payload{Version: 1, SessionID: "1f7a", ClassID: "C-1", IssuerID: "T-100"}
	encoded := p.Encode()
	if encoded != "attendance:1f7a:C-1:T-100" {
		t.Fatalf("Encode() = %q", encoded)
	}

	got, err := ParsePayload(encoded)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: %+v != %+v", got, p)
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"wrong tag", "checkin:1f7a:C-1:T-100"},
		{"too few fields", "attendance:1f7a:C-1"},
		{"too many fields", "attendance:1f7a:C-1:T-100:extra"},
		{"empty session id", "attendance::C-1:T-100"},
		{"bare word", "attendance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePayload(tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("ParsePayload(%q): expected ErrInvalidInput, got %v", tc.in, err)
			}
		})
	}
}
