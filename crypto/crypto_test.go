package crypto

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("mypassword")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "mypassword" {
		t.Fatal("Hash returned the plaintext")
	}

	if err := h.Compare(hash, "mypassword"); err != nil {
		t.Errorf("Compare failed for correct password: %v", err)
	}
	if err := h.Compare(hash, "wrongpassword"); err == nil {
		t.Error("Compare succeeded for wrong password")
	}
}

func TestBcryptHasherSalts(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	h1, _ := h.Hash("same")
	h2, _ := h.Hash("same")
	if h1 == h2 {
		t.Error("two hashes of the same password are identical, salt missing")
	}
}

func TestGenerateToken(t *testing.T) {
	t1 := GenerateToken(32)
	t2 := GenerateToken(32)

	if t1 == t2 {
		t.Error("GenerateToken produced identical tokens")
	}
	if len(t1) < 40 {
		t.Errorf("token seems too short: %d", len(t1))
	}
}

func TestHashToken(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("HashToken is not deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("HashToken collided on different input")
	}
	if len(HashToken("abc")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashToken("abc")))
	}
}
