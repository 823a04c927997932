package tokens

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	apperr "github.com/obverse/obverse/internal/errors"
)

// NativeSymbol is the symbol of the chain's native asset.
const NativeSymbol = "SOL"

// Token describes a supported asset.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Mint     string `yaml:"mint"`
	Decimals int32  `yaml:"decimals"`
	Stable   bool   `yaml:"stable"`
}

// IsNative reports whether t is the native asset.
func (t Token) IsNative() bool {
	return t.Symbol == NativeSymbol
}

var builtins = []Token{
	{Symbol: NativeSymbol, Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
	{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, Stable: true},
	{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6, Stable: true},
	{Symbol: "PYUSD", Mint: "2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo", Decimals: 6, Stable: true},
}

// Registry is a concurrency-safe symbol index of supported tokens.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewRegistry returns a registry pre-populated with the built-in tokens.
func NewRegistry() *Registry {
	r := &Registry{tokens: make(map[string]Token, len(builtins))}
	for _, t := range builtins {
		r.tokens[t.Symbol] = t
	}
	return r
}

type fileFormat struct {
	Tokens []Token `yaml:"tokens"`
}

// LoadFile returns the built-in registry merged with the tokens listed in a
// YAML file. Entries with an existing symbol replace the built-in.
func LoadFile(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokens file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse tokens file: %w", err)
	}
	for _, t := range f.Tokens {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a token.
func (r *Registry) Register(t Token) error {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.Mint = strings.TrimSpace(t.Mint)
	if t.Symbol == "" || t.Mint == "" {
		return apperr.Validation("token symbol and mint are required")
	}
	if t.Decimals < 0 || t.Decimals > 18 {
		return apperr.Validation(fmt.Sprintf("token %s has invalid decimals %d", t.Symbol, t.Decimals))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Symbol] = t
	return nil
}

// Lookup finds a token by symbol, case-insensitively.
func (r *Registry) Lookup(symbol string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, apperr.Validation(fmt.Sprintf("unsupported token %q", symbol))
	}
	return t, nil
}

// Native returns the native asset.
func (r *Registry) Native() Token {
	t, _ := r.Lookup(NativeSymbol)
	return t
}

// Stablecoins lists the stable tokens sorted by symbol.
func (r *Registry) Stablecoins() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		if t.Stable {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
