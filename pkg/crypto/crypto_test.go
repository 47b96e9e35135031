package crypto

import (
	"strings"
	"testing"
)

func TestGeneratePair(t *testing.T) {
	pair, err := GeneratePair(0)
	if err != nil {
		t.Fatal(err)
	}
	if pair.Secret == "" || pair.Hash == "" {
		t.Fatalf("pair = %+v", pair)
	}
	if pair.Secret == pair.Hash {
		t.Fatal("hash must differ from the raw secret")
	}
	if pair.Hash != HashSecret(pair.Secret) {
		t.Fatal("hash must be recomputable from the secret")
	}

	other, err := GeneratePair(0)
	if err != nil {
		t.Fatal(err)
	}
	if other.Secret == pair.Secret {
		t.Fatal("secrets must not repeat")
	}
}

func TestVerifySecret(t *testing.T) {
	pair, err := GeneratePair(64)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := VerifySecret(pair.Secret, pair.Hash)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}

	ok, err = VerifySecret("wrong", pair.Hash)
	if err != nil || ok {
		t.Fatalf("wrong secret verified: %v, %v", ok, err)
	}

	if _, err := VerifySecret("", pair.Hash); err == nil {
		t.Fatal("empty secret must error")
	}
	if _, err := VerifySecret(pair.Secret, ""); err == nil {
		t.Fatal("empty hash must error")
	}
}

func TestIDGenerator(t *testing.T) {
	g, err := NewIDGenerator("")
	if err != nil {
		t.Fatal(err)
	}

	id, err := g.Generate(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != defaultIDSize {
		t.Fatalf("len = %d, want %d", len(id), defaultIDSize)
	}
	for _, c := range id {
		if !strings.ContainsRune(defaultAlphabet, c) {
			t.Fatalf("character %q outside alphabet", c)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := g.Generate(0)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIDGeneratorAlphabetValidation(t *testing.T) {
	tests := []struct {
		name     string
		alphabet string
		want     error
	}{
		{"too short", "abc", ErrAlphabetTooShort},
		{"too long", strings.Repeat("a", 256), ErrAlphabetTooLong},
		{"non ascii", "abcdefgé", ErrAlphabetNotASCII},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIDGenerator(tt.alphabet); err != tt.want {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestArgon2RoundTrip(t *testing.T) {
	hasher := &Argon2{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	hash, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q", hash)
	}

	ok, err := hasher.Verify("correct horse battery staple", hash)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}

	ok, err = hasher.Verify("wrong password", hash)
	if err != nil || ok {
		t.Fatalf("wrong password verified: %v, %v", ok, err)
	}

	// Same password, fresh salt, different hash.
	again, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if again == hash {
		t.Fatal("salts must differ between hashes")
	}
}

func TestArgon2RejectsGarbageHash(t *testing.T) {
	hasher := NewArgon2()

	if _, err := hasher.Verify("password", "not-an-encoded-hash"); err == nil {
		t.Fatal("garbage hash must error")
	}
}
