package validation

import (
	"strings"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"simple equity", "AAPL", false},
		{"single letter", "F", false},
		{"with digits", "BRK2", false},
		{"dotted share class", "BRK.A", false},
		{"hyphenated share class", "BF-B", false},
		{"crypto pair", "BTC-USD", false},
		{"crypto pair euro quote", "ETH-EUR", false},
		{"long base pair", "DOGECOIN1-USDT", false},
		{"empty", "", true},
		{"lowercase", "aapl", true},
		{"path injection", "AAPL/../admin", true},
		{"query injection", "AAPL?x=1", true},
		{"header injection", "AAPL\r\nHost: evil", true},
		{"space", "AA PL", true},
		{"leading dot", ".AAPL", true},
		{"trailing dot", "AAPL.", true},
		{"double class", "BRK.A.B", true},
		{"leading hyphen", "-USD", true},
		{"trailing hyphen", "BTC-", true},
		{"double hyphen", "BTC--USD", true},
		{"base too long", strings.Repeat("A", 11), true},
		{"quote too long", "BTC-ABCDEF", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSymbols(t *testing.T) {
	if err := ValidateSymbols([]string{"AAPL", "BTC-USD", "BRK.A"}); err != nil {
		t.Errorf("valid list rejected: %v", err)
	}

	err := ValidateSymbols([]string{"AAPL", "bad one", "also/bad"})
	if err == nil {
		t.Fatal("invalid list accepted")
	}
	if !strings.Contains(err.Error(), "bad one") || !strings.Contains(err.Error(), "also/bad") {
		t.Errorf("error should name every invalid entry, got %v", err)
	}
}

func TestSplitPair(t *testing.T) {
	base, quote, ok := SplitPair("BTC-USD")
	if !ok || base != "BTC" || quote != "USD" {
		t.Errorf("SplitPair(BTC-USD) = %q, %q, %v", base, quote, ok)
	}

	if _, _, ok := SplitPair("AAPL"); ok {
		t.Error("plain symbol reported as a pair")
	}
	if _, _, ok := SplitPair("BTC-"); ok {
		t.Error("dangling hyphen reported as a pair")
	}
}

func TestSanitizeSymbol(t *testing.T) {
	got, err := SanitizeSymbol("  btc-usd ")
	if err != nil {
		t.Fatalf("SanitizeSymbol failed: %v", err)
	}
	if got != "BTC-USD" {
		t.Errorf("SanitizeSymbol = %q, want BTC-USD", got)
	}

	if _, err := SanitizeSymbol("AAPL/../admin"); err == nil {
		t.Error("injection attempt accepted")
	}
}
