// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation checks user-supplied market symbols before they
// reach navigation URLs or log lines.
//
// Two shapes are accepted: plain instrument symbols, optionally with
// a dotted share class (AAPL, BRK.A), and hyphenated pairs covering
// crypto quotes and hyphenated share classes (BTC-USD, BF-B).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// instrumentPattern matches a plain symbol with an optional
	// dotted share class.
	instrumentPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}(\.[A-Z]{1,3})?$`)

	// pairPattern matches base-quote pairs. The quote leg allows a
	// single character so hyphenated share classes pass too.
	pairPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}-[A-Z0-9]{1,5}$`)
)

// ValidateSymbol validates a market symbol in either accepted shape.
// Anything else, including path or query metacharacters, is rejected.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if instrumentPattern.MatchString(symbol) || pairPattern.MatchString(symbol) {
		return nil
	}
	return fmt.Errorf("invalid symbol format: %q", symbol)
}

// ValidateSymbols validates a list of symbols, reporting every
// invalid entry at once.
func ValidateSymbols(symbols []string) error {
	var invalid []string
	for _, s := range symbols {
		if err := ValidateSymbol(s); err != nil {
			invalid = append(invalid, s)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid symbols: %v", invalid)
	}
	return nil
}

// SplitPair splits a hyphenated pair like BTC-USD into its base and
// quote legs. Reports false when symbol is not a valid pair.
func SplitPair(symbol string) (base, quote string, ok bool) {
	if !pairPattern.MatchString(symbol) {
		return "", "", false
	}
	base, quote, _ = strings.Cut(symbol, "-")
	return base, quote, true
}

// SanitizeSymbol trims and uppercases a symbol, then validates it.
// Returns the normalized symbol, or an error if it remains invalid.
func SanitizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if err := ValidateSymbol(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
