package internal

import (
	"strings"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}

	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if parsed != sid {
		t.Fatalf("round trip mismatch: %v != %v", parsed, sid)
	}
}

func TestParseSessionIDRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not-base64!!", "dG9vc2hvcnQ"} {
		if _, err := ParseSessionID(in); err == nil {
			t.Fatalf("ParseSessionID(%q): expected error", in)
		}
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}

	token, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken: %v", err)
	}

	gotSID, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken: %v", err)
	}
	if gotSID != sid.String() {
		t.Fatalf("session id: got %q, want %q", gotSID, sid.String())
	}
	if gotSecret != secret {
		t.Fatal("refresh secret did not survive the round trip")
	}
}

func TestDecodeRefreshTokenRejectsWrongSize(t *testing.T) {
	if _, _, err := DecodeRefreshToken("dG9vc2hvcnQ"); err == nil {
		t.Fatal("expected error for truncated token")
	}
}

func TestNewBackupCodeAlphabet(t *testing.T) {
	code, err := NewBackupCode(10)
	if err != nil {
		t.Fatalf("NewBackupCode: %v", err)
	}
	if len(code) != 10 {
		t.Fatalf("code length: got %d, want 10", len(code))
	}
	for _, r := range code {
		if !strings.ContainsRune(backupCodeAlphabet, r) {
			t.Fatalf("code %q contains %q outside the alphabet", code, r)
		}
	}
}

func TestNewBackupCodeLengthBounds(t *testing.T) {
	for _, n := range []int{0, 7, 33} {
		if _, err := NewBackupCode(n); err == nil {
			t.Fatalf("NewBackupCode(%d): expected error", n)
		}
	}
}

func TestHashBackupCodeCanonicalizes(t *testing.T) {
	base := HashBackupCode("ABCD234567")

	for _, in := range []string{"abcd234567", "  ABCD234567\n", "Abcd234567"} {
		if HashBackupCode(in) != base {
			t.Fatalf("hash of %q differs from canonical form", in)
		}
	}
	if HashBackupCode("ABCD234568") == base {
		t.Fatal("distinct codes hashed equal")
	}
}
