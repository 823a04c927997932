package tokens

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperr "github.com/obverse/obverse/internal/errors"
)

func TestLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	usdc, err := r.Lookup("usdc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if usdc.Decimals != 6 || usdc.Mint != "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v" {
		t.Fatalf("unexpected token %+v", usdc)
	}
	if _, err := r.Lookup("DOGE"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown token, got %v", err)
	}
	if !r.Native().IsNative() {
		t.Fatalf("expected native token SOL")
	}
}

func TestStablecoinsSorted(t *testing.T) {
	got := NewRegistry().Stablecoins()
	want := []string{"PYUSD", "USDC", "USDT"}
	if len(got) != len(want) {
		t.Fatalf("expected %d stablecoins got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Symbol != want[i] {
			t.Fatalf("position %d: expected %s got %s", i, want[i], got[i].Symbol)
		}
	}
}

func TestLoadFileMergesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := "tokens:\n  - symbol: eurc\n    mint: HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr\n    decimals: 6\n    stable: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eurc, err := r.Lookup("EURC")
	if err != nil {
		t.Fatalf("lookup merged token: %v", err)
	}
	if !eurc.Stable || eurc.Decimals != 6 {
		t.Fatalf("unexpected merged token %+v", eurc)
	}
	if len(r.Stablecoins()) != 4 {
		t.Fatalf("expected built-ins to be kept")
	}
}
