package idempotency

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"uuid", "4f2b6c1e-8f0a-4c55-9a0e-0b5f2b1c9d77", nil},
		{"max length", strings.Repeat("k", MaxKeyLength), nil},
		{"empty", "", ErrInvalidKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
		{"newline", "retry\n1", ErrInvalidKey},
		{"delete char", "retry\x7f", ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestScopedKey(t *testing.T) {
	a := ScopedKey("POST", "/employees/E1/onboard", "k1")
	b := ScopedKey("POST", "/employees/E2/onboard", "k1")
	if a == b {
		t.Error("keys for different routes must differ")
	}
}

func TestHash(t *testing.T) {
	if Hash([]byte(`{"role":"Analyst"}`)) != Hash([]byte(`{"role":"Analyst"}`)) {
		t.Error("Hash() is not deterministic")
	}
	if Hash([]byte("a")) == Hash([]byte("b")) {
		t.Error("Hash() collided for different input")
	}
	if len(Hash(nil)) != 64 {
		t.Errorf("Hash() length = %d, want 64", len(Hash(nil)))
	}
}
