package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// decimals is the number of fractional digits of one coin.
	decimals = 6
	// coin is one coin in base units.
	coin = 1_000_000
)

// formatAmount converts base units to a human-readable decimal string.
func formatAmount(units uint64) string {
	whole := units / coin
	frac := units % coin
	return fmt.Sprintf("%d.%06d", whole, frac)
}

// parseAmount converts a decimal coin string to base units.
func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount")
	}

	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}

	var frac uint64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > decimals {
			return 0, fmt.Errorf("too many decimal places (max %d)", decimals)
		}
		fracStr = fracStr + strings.Repeat("0", decimals-len(fracStr))
		frac, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part: %w", err)
		}
	}

	if whole > math.MaxUint64/coin {
		return 0, fmt.Errorf("amount too large")
	}
	result := whole * coin
	if result > math.MaxUint64-frac {
		return 0, fmt.Errorf("amount too large")
	}
	return result + frac, nil
}
