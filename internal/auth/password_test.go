package auth

import (
	"errors"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash should not equal the password")
	}

	ok, err := CheckPassword(hash, "correct horse")
	if err != nil {
		t.Fatalf("check password: %v", err)
	}
	if !ok {
		t.Error("expected match")
	}

	ok, err = CheckPassword(hash, "wrong horse")
	if err != nil {
		t.Fatalf("check wrong password: %v", err)
	}
	if ok {
		t.Error("expected mismatch")
	}
}

func TestHashPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("err = %v, want ErrWeakPassword", err)
	}
}

func TestCheckPasswordMalformedHash(t *testing.T) {
	if _, err := CheckPassword("not-a-hash", "whatever1"); err == nil {
		t.Error("expected error for malformed hash")
	}
}
