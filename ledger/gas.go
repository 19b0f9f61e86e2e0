package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// gasErrorMarkers are substrings that identify out-of-gas conditions in
// node error messages.
var gasErrorMarkers = []string{
	"insufficient gas",
	"insufficient funds",
	"not enough gas",
	"gas budget",
	"balance insufficient",
}

// IsGasError reports whether msg describes a gas or funding failure.
func IsGasError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range gasErrorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyExecutionError wraps err with ErrInsufficientFunds when its message
// looks like a gas failure and it is not already classified.
func ClassifyExecutionError(err error) error {
	if err == nil || errors.Is(err, ErrInsufficientFunds) {
		return err
	}
	if IsGasError(err.Error()) {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return err
}
