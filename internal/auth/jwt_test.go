package auth

import (
	"testing"
	"time"

	"rollcall/internal/identity"
)

func TestIssueParse_RoundTrip(t *testing.T) {
	token, exp, err := Issue("S-200", identity.RoleStudent, "rollcall", "secret", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Error("expiry must be in the future")
	}

	claims, err := Parse(token, "secret", "rollcall")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "S-200" {
		t.Errorf("subject = %q, want S-200", claims.Subject)
	}
	if claims.Role != identity.RoleStudent {
		t.Errorf("role = %q, want student", claims.Role)
	}
}

func TestParse_Rejections(t *testing.T) {
	token, _, err := Issue("S-200", identity.RoleStudent, "rollcall", "secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Parse(token, "wrong-key", "rollcall"); err == nil {
		t.Error("expected error for wrong signing key")
	}
	if _, err := Parse(token, "secret", "someone-else"); err == nil {
		t.Error("expected error for issuer mismatch")
	}
	if _, err := Parse("not-a-token", "secret", "rollcall"); err == nil {
		t.Error("expected error for garbage token")
	}

	expired, _, err := Issue("S-200", identity.RoleStudent, "rollcall", "secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(expired, "secret", "rollcall"); err == nil {
		t.Error("expected error for expired token")
	}
}
