package auth

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" manager ")
	if err != nil || r != RoleManager {
		t.Fatalf("ParseRole() = %q, %v", r, err)
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles() {
		if !r.Valid() {
			t.Fatalf("%q should be valid", r)
		}
	}
	if Role("administrator").Valid() {
		t.Fatalf("role names are case-sensitive once parsed")
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&Session{AccessToken: "t"}).Expired(now) {
		t.Fatalf("session without expiry never expires")
	}
	if !(&Session{AccessToken: "t", ExpiresAt: &past}).Expired(now) {
		t.Fatalf("expected expired")
	}
	if (&Session{AccessToken: "t", ExpiresAt: &future}).Expired(now) {
		t.Fatalf("did not expect expired")
	}
	var nilSession *Session
	if nilSession.Expired(now) {
		t.Fatalf("nil session is not expired")
	}
}

func TestSession_SameToken(t *testing.T) {
	a := &Session{AccessToken: "a"}
	if !a.SameToken(&Session{AccessToken: "a", RefreshToken: "r"}) {
		t.Fatalf("same access token should match")
	}
	if a.SameToken(&Session{AccessToken: "b"}) || a.SameToken(nil) {
		t.Fatalf("different or nil session should not match")
	}
	var nilSession *Session
	if !nilSession.SameToken(nil) {
		t.Fatalf("nil matches nil")
	}
}

func TestState_String(t *testing.T) {
	if StateAuthenticated.String() != "authenticated" || State(42).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
