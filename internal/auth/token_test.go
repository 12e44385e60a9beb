package auth

import (
	"bytes"
	"testing"
)

func TestTokenGeneratorUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		raw, hash, err := NewOpaqueToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if seen[raw] {
			t.Fatalf("duplicate token %q", raw)
		}
		seen[raw] = true
		if HashToken(raw) != hash {
			t.Fatalf("hash mismatch for %q", raw)
		}
	}
}

func TestTokenGeneratorShortSource(t *testing.T) {
	g := TokenGenerator{Source: bytes.NewReader([]byte{1, 2, 3})}
	if _, _, err := g.Generate(); err == nil {
		t.Fatalf("expected error from exhausted source")
	}
}
