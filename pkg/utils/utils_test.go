package utils

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordNeverStoresPlaintext(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	const plain = "Sup3r$ecret"

	first, err := h.HashPassword(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := h.HashPassword(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == plain || second == plain {
		t.Fatal("hash equals plaintext")
	}
	if first == second {
		t.Fatal("expected a fresh salt per call")
	}
	if !h.VerifyPassword(plain, first) || !h.VerifyPassword(plain, second) {
		t.Fatal("expected both hashes to verify")
	}
	if h.VerifyPassword("wrong", first) {
		t.Fatal("wrong password verified")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	for _, bad := range []string{"", "not-a-hash", "$argon2id$v=19$m=65536,t=3,p=2$abc$def"} {
		if h.VerifyPassword("anything", bad) {
			t.Fatalf("malformed hash %q verified", bad)
		}
	}
}

func TestNewBcryptHasherClampsCost(t *testing.T) {
	if got := NewBcryptHasher(99).Cost; got != DefaultBcryptCost {
		t.Fatalf("expected default cost, got %d", got)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Passw0rd!", true},
		{"P@ss1", false},
		{"password1!", false},
		{"PASSWORD1!", false},
		{"Password!!", false},
		{"Password12", false},
		{"Pässwörd1€", true},
		{"Aa1!" + strings.Repeat("x", 68), true},
		{"Aa1!" + strings.Repeat("x", 69), false},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err == nil) != tt.ok {
			t.Fatalf("ValidatePassword(%q) = %v, want ok=%v", tt.password, err, tt.ok)
		}
		var ve *ValidationError
		if err != nil && (!errors.As(err, &ve) || ve.Field != "password") {
			t.Fatalf("expected password ValidationError, got %#v", err)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	for _, good := range []string{"a@b.co", "jane.doe+loans@example.com"} {
		if err := ValidateEmail(good); err != nil {
			t.Fatalf("%q: %v", good, err)
		}
	}
	for _, bad := range []string{"", "jane", "jane@", "Jane <jane@example.com>", "jane@localhost"} {
		if err := ValidateEmail(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
	if got := NormalizeEmail("  Jane@Example.COM "); got != "jane@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
}

func TestValidatePhone(t *testing.T) {
	if err := ValidatePhone("+1 (555) 123-4567"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePhone("12345"); err == nil {
		t.Fatal("short phone accepted")
	}
}

func TestGenerateOTPFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		otp, err := GenerateOTP()
		if err != nil {
			t.Fatalf("otp: %v", err)
		}
		if len(otp) != 6 || strings.Trim(otp, "0123456789") != "" {
			t.Fatalf("bad otp %q", otp)
		}
	}
}

func TestHashTokenStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("hash not deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("different inputs share a hash")
	}
	tok, err := GenerateToken(32)
	if err != nil || len(tok) != 64 {
		t.Fatalf("GenerateToken = %q, %v", tok, err)
	}
}

func TestMaxPasswordLengthMatchesBcrypt(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	atLimit := "Aa1!" + strings.Repeat("x", MaxPasswordLength-4)
	if err := ValidatePassword(atLimit); err != nil {
		t.Fatalf("password at the limit rejected: %v", err)
	}
	if _, err := h.HashPassword(atLimit); err != nil {
		t.Fatalf("bcrypt rejected a password the policy accepts: %v", err)
	}

	over := atLimit + "x"
	if _, err := bcrypt.GenerateFromPassword([]byte(over), bcrypt.MinCost); !errors.Is(err, bcrypt.ErrPasswordTooLong) {
		t.Fatalf("expected bcrypt to refuse %d bytes, got %v", len(over), err)
	}
	if err := ValidatePassword(over); err == nil {
		t.Fatalf("policy accepted %d bytes", len(over))
	}
}
